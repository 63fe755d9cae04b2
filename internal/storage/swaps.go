// Package storage - SQLite implementation of the swap Repository.
package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sebastianpulido/crypto-swap/internal/chain"
	"github.com/sebastianpulido/crypto-swap/internal/swap"
	"github.com/sebastianpulido/crypto-swap/pkg/helpers"
)

// CreateSwap inserts a new swap and its legs in one transaction.
func (s *Storage) CreateSwap(sw *swap.Swap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO swaps (id, secret_hash, secret, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sw.ID,
		helpers.BytesToHexNoPrefix(sw.SecretHash),
		nullableHex(sw.Secret),
		string(sw.State),
		sw.CreatedAt.Unix(),
		sw.UpdatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return swap.ErrSwapExists
		}
		return fmt.Errorf("failed to insert swap: %w", err)
	}

	if err := insertLegs(tx, sw); err != nil {
		return err
	}
	return tx.Commit()
}

// GetSwap loads a swap with its legs.
func (s *Storage) GetSwap(id string) (*swap.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSwap(id)
}

func (s *Storage) getSwap(id string) (*swap.Swap, error) {
	var (
		sw        swap.Swap
		hashHex   string
		secretHex sql.NullString
		state     string
		createdAt int64
		updatedAt int64
	)
	err := s.db.QueryRow(`
		SELECT id, secret_hash, secret, state, created_at, updated_at
		FROM swaps WHERE id = ?`, id).
		Scan(&sw.ID, &hashHex, &secretHex, &state, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, swap.ErrSwapNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query swap: %w", err)
	}

	sw.SecretHash, err = helpers.HexToBytes(hashHex)
	if err != nil {
		return nil, fmt.Errorf("corrupt secret hash for swap %s: %w", id, err)
	}
	if secretHex.Valid {
		sw.Secret, err = helpers.HexToBytes(secretHex.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt secret for swap %s: %w", id, err)
		}
	}
	sw.State = swap.SwapState(state)
	sw.CreatedAt = time.Unix(createdAt, 0)
	sw.UpdatedAt = time.Unix(updatedAt, 0)

	if sw.Legs, err = s.loadLegs(id); err != nil {
		return nil, err
	}
	return &sw, nil
}

func (s *Storage) loadLegs(swapID string) ([]*swap.Leg, error) {
	rows, err := s.db.Query(`
		SELECT id, symbol, network, kind, locator, amount, timelock, state, claim_txid, refund_txid
		FROM swap_legs WHERE swap_id = ? ORDER BY position`, swapID)
	if err != nil {
		return nil, fmt.Errorf("failed to query legs: %w", err)
	}
	defer rows.Close()

	var legs []*swap.Leg
	for rows.Next() {
		var (
			leg        swap.Leg
			network    string
			kind       string
			state      string
			claimTxID  sql.NullString
			refundTxID sql.NullString
		)
		if err := rows.Scan(&leg.ID, &leg.Symbol, &network, &kind, &leg.Locator,
			&leg.Amount, &leg.Timelock, &state, &claimTxID, &refundTxID); err != nil {
			return nil, fmt.Errorf("failed to scan leg: %w", err)
		}
		leg.Network = chain.Network(network)
		leg.Kind = swap.LegKind(kind)
		leg.State = swap.LegState(state)
		leg.ClaimTxID = claimTxID.String
		leg.RefundTxID = refundTxID.String
		legs = append(legs, &leg)
	}
	return legs, rows.Err()
}

// UpdateSwap overwrites the stored swap and its legs.
func (s *Storage) UpdateSwap(sw *swap.Swap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE swaps SET secret_hash = ?, secret = ?, state = ?, updated_at = ?
		WHERE id = ?`,
		helpers.BytesToHexNoPrefix(sw.SecretHash),
		nullableHex(sw.Secret),
		string(sw.State),
		sw.UpdatedAt.Unix(),
		sw.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update swap: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return swap.ErrSwapNotFound
	}

	// Legs are few and small; replacing them is simpler than diffing.
	if _, err := tx.Exec(`DELETE FROM swap_legs WHERE swap_id = ?`, sw.ID); err != nil {
		return fmt.Errorf("failed to clear legs: %w", err)
	}
	if err := insertLegs(tx, sw); err != nil {
		return err
	}
	return tx.Commit()
}

// ListOpenSwaps returns swaps that have not reached a terminal state.
func (s *Storage) ListOpenSwaps() ([]*swap.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id FROM swaps WHERE state NOT IN (?, ?) ORDER BY created_at`,
		string(swap.StateCompleted), string(swap.StateExpired))
	if err != nil {
		return nil, fmt.Errorf("failed to query open swaps: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	swaps := make([]*swap.Swap, 0, len(ids))
	for _, id := range ids {
		sw, err := s.getSwap(id)
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, sw)
	}
	return swaps, nil
}

func insertLegs(tx *sql.Tx, sw *swap.Swap) error {
	for i, leg := range sw.Legs {
		if leg.ID == "" {
			leg.ID = uuid.New().String()
		}
		_, err := tx.Exec(`
			INSERT INTO swap_legs (id, swap_id, position, symbol, network, kind,
				locator, amount, timelock, state, claim_txid, refund_txid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			leg.ID, sw.ID, i, leg.Symbol, string(leg.Network), string(leg.Kind),
			leg.Locator, leg.Amount, leg.Timelock, string(leg.State),
			nullableString(leg.ClaimTxID), nullableString(leg.RefundTxID),
		)
		if err != nil {
			return fmt.Errorf("failed to insert leg %d: %w", i, err)
		}
	}
	return nil
}

func nullableHex(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: helpers.BytesToHexNoPrefix(b), Valid: true}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
