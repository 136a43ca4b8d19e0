package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/options-engine/internal/model"
	"github.com/atmx/options-engine/internal/positions"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Token amounts are stored as NUMERIC(20,0) so the full uint64 range fits,
// and travel as text in both directions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const marketColumns = `id, market_index, name, asset_mint, asset_decimals, price_feed, status,
	fee_bps::TEXT, reserve_supply::TEXT, committed_reserve::TEXT, premiums::TEXT,
	lp_minted::TEXT, protocol_fees::TEXT, volatility, vol_updated_at, created_at, version`

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	vol, err := json.Marshal(m.Volatility)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO markets (id, market_index, name, asset_mint, asset_decimals, price_feed, status,
		                      fee_bps, reserve_supply, committed_reserve, premiums, lp_minted, protocol_fees,
		                      volatility, vol_updated_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7,
		         $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13::NUMERIC,
		         $14::JSONB, $15, $16)`,
		m.ID, int32(m.Index), m.Name, m.AssetMint, int16(m.AssetDecimals), m.PriceFeed, m.Status,
		units(m.FeeBps), units(m.ReserveSupply), units(m.CommittedReserve), units(m.Premiums),
		units(m.LPMinted), units(m.ProtocolFees),
		string(vol), m.VolUpdatedAt, m.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrMarketExists, m.ID)
	}
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+marketColumns+` FROM markets ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) GetLedger(ctx context.Context, holder string) (*positions.Ledger, error) {
	var data []byte
	var version int64
	err := s.pool.QueryRow(ctx, `SELECT slots, version FROM ledgers WHERE holder = $1`, holder).Scan(&data, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return positions.NewLedger(holder), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger %s: %w", holder, err)
	}

	l := positions.NewLedger(holder)
	if err := json.Unmarshal(data, &l.Slots); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", holder, err)
	}
	l.Version = uint64(version)
	return l, nil
}

func (s *PostgresStore) GetShares(ctx context.Context, marketID, holder string) (uint64, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM lp_shares WHERE market_id = $1 AND holder = $2`,
		marketID, holder).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get shares %s/%s: %w", marketID, holder, err)
	}
	return parseUnits(balance)
}

// Commit applies the transition in one transaction. The market and ledger
// rows are only updated at the version the transition was built on, and the
// share row is locked before the balance is checked.
func (s *PostgresStore) Commit(ctx context.Context, t Transition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	m := t.Market
	vol, err := json.Marshal(m.Volatility)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE markets
		 SET status = $2, reserve_supply = $3::NUMERIC, committed_reserve = $4::NUMERIC,
		     premiums = $5::NUMERIC, lp_minted = $6::NUMERIC, protocol_fees = $7::NUMERIC,
		     volatility = $8::JSONB, vol_updated_at = $9, version = version + 1
		 WHERE id = $1 AND version = $10`,
		m.ID, m.Status, units(m.ReserveSupply), units(m.CommittedReserve),
		units(m.Premiums), units(m.LPMinted), units(m.ProtocolFees),
		string(vol), m.VolUpdatedAt, int64(m.Version),
	)
	if err != nil {
		return fmt.Errorf("update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM markets WHERE id = $1)`, m.ID).Scan(&exists); err != nil {
			return fmt.Errorf("update market %s: %w", m.ID, err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrMarketNotFound, m.ID)
		}
		return fmt.Errorf("%w: market %s changed since version %d", ErrConflict, m.ID, m.Version)
	}

	if t.Holder != "" && (t.SharesMinted > 0 || t.SharesBurned > 0) {
		if err := commitShares(ctx, tx, m.ID, t); err != nil {
			return err
		}
	}

	if t.Ledger != nil {
		if err := commitLedger(ctx, tx, t.Ledger, t.Event.Timestamp); err != nil {
			return err
		}
	}

	if err := insertEvent(ctx, tx, t.Event); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func commitShares(ctx context.Context, tx pgx.Tx, marketID string, t Transition) error {
	var current uint64
	var balance string
	err := tx.QueryRow(ctx,
		`SELECT balance::TEXT FROM lp_shares WHERE market_id = $1 AND holder = $2 FOR UPDATE`,
		marketID, t.Holder).Scan(&balance)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return fmt.Errorf("lock shares %s/%s: %w", marketID, t.Holder, err)
	default:
		if current, err = parseUnits(balance); err != nil {
			return err
		}
	}

	next, err := applyShares(current, t.SharesMinted, t.SharesBurned)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO lp_shares (market_id, holder, balance) VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (market_id, holder) DO UPDATE SET balance = EXCLUDED.balance`,
		marketID, t.Holder, units(next))
	return err
}

// commitLedger inserts a first ledger (version 0) or updates the stored one
// at l.Version.
func commitLedger(ctx context.Context, tx pgx.Tx, l *positions.Ledger, at time.Time) error {
	slots, err := json.Marshal(l.Slots)
	if err != nil {
		return err
	}
	var tag pgconn.CommandTag
	if l.Version == 0 {
		tag, err = tx.Exec(ctx,
			`INSERT INTO ledgers (holder, slots, updated_at, version) VALUES ($1, $2::JSONB, $3, 1)
			 ON CONFLICT (holder) DO NOTHING`,
			l.Holder, string(slots), at)
	} else {
		tag, err = tx.Exec(ctx,
			`UPDATE ledgers SET slots = $2::JSONB, updated_at = $3, version = version + 1
			 WHERE holder = $1 AND version = $4`,
			l.Holder, string(slots), at, int64(l.Version))
	}
	if err != nil {
		return fmt.Errorf("store ledger %s: %w", l.Holder, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: ledger %s changed since version %d", ErrConflict, l.Holder, l.Version)
	}
	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, e model.Event) error {
	before, err := json.Marshal(e.Before)
	if err != nil {
		return err
	}
	after, err := json.Marshal(e.After)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO market_events (id, kind, market_id, holder, slot, amount, shares, payout, fee,
		                            before, after, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
		         $10::JSONB, $11::JSONB, $12)`,
		e.ID, string(e.Kind), e.MarketID, e.Holder, int32(e.Slot),
		units(e.Amount), units(e.Shares), units(e.Payout), units(e.Fee),
		string(before), string(after), e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, marketID string) ([]model.Event, error) {
	if _, err := s.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, market_id, holder, slot,
		        amount::TEXT, shares::TEXT, payout::TEXT, fee::TEXT,
		        before, after, timestamp
		 FROM market_events WHERE market_id = $1 ORDER BY seq`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var kind string
		var slot int32
		var amount, shares, payout, fee string
		var before, after []byte

		if err := rows.Scan(&e.ID, &kind, &e.MarketID, &e.Holder, &slot,
			&amount, &shares, &payout, &fee, &before, &after, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Kind = model.EventKind(kind)
		e.Slot = int(slot)
		for _, f := range []struct {
			dst *uint64
			src string
		}{{&e.Amount, amount}, {&e.Shares, shares}, {&e.Payout, payout}, {&e.Fee, fee}} {
			if *f.dst, err = parseUnits(f.src); err != nil {
				return nil, err
			}
		}
		if err := json.Unmarshal(before, &e.Before); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(after, &e.After); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// scanMarket reads one markets row selected with marketColumns.
func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var index int32
	var decimals int16
	var fee, reserve, committed, premiums, minted, fees string
	var vol []byte
	var version int64

	if err := row.Scan(&m.ID, &index, &m.Name, &m.AssetMint, &decimals, &m.PriceFeed, &m.Status,
		&fee, &reserve, &committed, &premiums, &minted, &fees,
		&vol, &m.VolUpdatedAt, &m.CreatedAt, &version); err != nil {
		return nil, err
	}
	m.Index = uint16(index)
	m.AssetDecimals = uint8(decimals)
	m.Version = uint64(version)

	var err error
	for _, f := range []struct {
		dst *uint64
		src string
	}{
		{&m.FeeBps, fee}, {&m.ReserveSupply, reserve}, {&m.CommittedReserve, committed},
		{&m.Premiums, premiums}, {&m.LPMinted, minted}, {&m.ProtocolFees, fees},
	} {
		if *f.dst, err = parseUnits(f.src); err != nil {
			return nil, fmt.Errorf("market %s: %w", m.ID, err)
		}
	}
	if err := json.Unmarshal(vol, &m.Volatility); err != nil {
		return nil, fmt.Errorf("market %s volatility: %w", m.ID, err)
	}
	return &m, nil
}

func units(v uint64) string { return strconv.FormatUint(v, 10) }

func parseUnits(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return v, nil
}
