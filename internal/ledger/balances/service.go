package balances

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/vantage-erp/vantage-erp/internal/ledger/accounts"
)

// Service derives read-only balances over posted entries. Results may be
// stale with respect to in-flight transactions; snapshot semantics are
// acceptable here.
type Service struct {
	repo   Repository
	cache  *redis.Client
	ttl    time.Duration
	flight singleflight.Group
}

// NewService wires the balance reader. cache may be nil, in which case every
// call hits the store.
func NewService(repo Repository, cache *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{repo: repo, cache: cache, ttl: ttl}
}

func accountVersionKey(accountID int64) string {
	return fmt.Sprintf("bal:acct:%d:ver", accountID)
}

const globalVersionKey = "bal:global:ver"

// InvalidateAccounts bumps the version counters of the touched accounts so
// stale cached balances stop matching. Satisfies the journal engine's
// CacheInvalidator port.
func (s *Service) InvalidateAccounts(ctx context.Context, accountIDs []int64) error {
	if s.cache == nil || len(accountIDs) == 0 {
		return nil
	}
	pipe := s.cache.Pipeline()
	for _, id := range accountIDs {
		pipe.Incr(ctx, accountVersionKey(id))
	}
	pipe.Incr(ctx, globalVersionKey)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Service) version(ctx context.Context, key string) int64 {
	if s.cache == nil {
		return 0
	}
	v, err := s.cache.Get(ctx, key).Int64()
	if err != nil {
		return 0
	}
	return v
}

func dateKey(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("20060102")
}

// AccountBalance sums posted lines in the window and signs the result by the
// account's natural side.
func (s *Service) AccountBalance(ctx context.Context, accountID int64, from, to *time.Time) (decimal.Decimal, error) {
	key := fmt.Sprintf("bal:acct:%d:v%d:%s:%s",
		accountID, s.version(ctx, accountVersionKey(accountID)), dateKey(from), dateKey(to))
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key).Result(); err == nil {
			if cached, err := decimal.NewFromString(raw); err == nil {
				return cached, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			return decimal.Zero, err
		}
	}
	sums, err := s.repo.AccountSums(ctx, accountID, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	balance := sums.Signed()
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, balance.String(), s.ttl).Err()
	}
	return balance, nil
}

// TrialBalance lists every active leaf account with a non-zero balance,
// classified to its column, grouped by code prefix, with a totals pair that
// must agree. Concurrent identical requests collapse to one query.
func (s *Service) TrialBalance(ctx context.Context, asOf *time.Time, category *accounts.Category) (TrialBalance, error) {
	key := fmt.Sprintf("bal:tb:v%d:%s:%s", s.version(ctx, globalVersionKey), dateKey(asOf), categoryKey(category))
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key).Bytes(); err == nil {
			var cached TrialBalance
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}
	result, err, _ := s.flight.Do(key, func() (any, error) {
		return s.buildTrialBalance(ctx, asOf, category)
	})
	if err != nil {
		return TrialBalance{}, err
	}
	tb := result.(TrialBalance)
	if s.cache != nil {
		if raw, err := json.Marshal(tb); err == nil {
			_ = s.cache.Set(ctx, key, raw, s.ttl).Err()
		}
	}
	return tb, nil
}

func (s *Service) buildTrialBalance(ctx context.Context, asOf *time.Time, category *accounts.Category) (TrialBalance, error) {
	sums, err := s.repo.LeafSums(ctx, asOf, category)
	if err != nil {
		return TrialBalance{}, err
	}
	tb := TrialBalance{AsOf: asOf}
	groupIndex := map[string]int{}
	for _, acct := range sums {
		balance := acct.Signed()
		if balance.IsZero() {
			continue
		}
		row := TrialBalanceRow{AccountID: acct.AccountID, Code: acct.Code, Name: acct.Name}
		switch {
		case acct.Nature == accounts.NatureDebit && balance.IsPositive(),
			acct.Nature == accounts.NatureCredit && balance.IsNegative():
			row.DebitBalance = balance.Abs()
		default:
			row.CreditBalance = balance.Abs()
		}
		key := row.GroupKey()
		idx, ok := groupIndex[key]
		if !ok {
			idx = len(tb.Groups)
			groupIndex[key] = idx
			tb.Groups = append(tb.Groups, TrialBalanceGroup{Key: key})
		}
		grp := &tb.Groups[idx]
		grp.Rows = append(grp.Rows, row)
		grp.Debit = grp.Debit.Add(row.DebitBalance)
		grp.Credit = grp.Credit.Add(row.CreditBalance)
		tb.TotalDebit = tb.TotalDebit.Add(row.DebitBalance)
		tb.TotalCredit = tb.TotalCredit.Add(row.CreditBalance)
	}
	return tb, nil
}

// AccountLedger builds a statement with opening and closing balances and a
// per-line running balance. Opening is the balance as of the day before the
// window starts.
func (s *Service) AccountLedger(ctx context.Context, accountID int64, from, to time.Time) (AccountLedger, error) {
	sums, err := s.repo.AccountSums(ctx, accountID, nil, nil)
	if err != nil {
		return AccountLedger{}, err
	}
	dayBefore := from.AddDate(0, 0, -1)
	opening, err := s.AccountBalance(ctx, accountID, nil, &dayBefore)
	if err != nil {
		return AccountLedger{}, err
	}
	lines, err := s.repo.Lines(ctx, accountID, from, to)
	if err != nil {
		return AccountLedger{}, err
	}
	ledger := AccountLedger{
		AccountID: accountID,
		Code:      sums.Code,
		From:      from,
		To:        to,
		Opening:   opening,
	}
	running := opening
	for _, line := range lines {
		if sums.Nature == accounts.NatureDebit {
			running = running.Add(line.Debit).Sub(line.Credit)
		} else {
			running = running.Add(line.Credit).Sub(line.Debit)
		}
		line.Running = running
		ledger.Lines = append(ledger.Lines, line)
		ledger.TotalDebit = ledger.TotalDebit.Add(line.Debit)
		ledger.TotalCredit = ledger.TotalCredit.Add(line.Credit)
	}
	ledger.Closing = running
	return ledger, nil
}

func categoryKey(category *accounts.Category) string {
	if category == nil {
		return "-"
	}
	return string(*category)
}
