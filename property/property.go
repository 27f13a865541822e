// Package property is the Property Verification Pipeline (C5): an
// append-mostly DAG keyed by its own status column, per spec §4.4.
//
//	draft → awaiting_agent --agent_approve--> awaiting_lawyer --lawyer_approve--> active
//	            |                                    |
//	            +--reject--> rejected (terminal)      +--reject--> rejected (terminal)
//
// create_property's dedup key is a pair of SHA-256 hashes computed over
// normalized listing fields and rounded coordinates; every transition
// past that point is a single row-locked status check, the same
// ControlTower guard shape escrow/labor/orders use (grounded on
// htlcswitch/switch_control.go).
package property

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/chigozirigeorge/verinest/verrors"
)

var log = logrus.WithField("subsystem", "property")

// Status mirrors properties.status, spec §4.4.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusAwaitingAgent   Status = "awaiting_agent"
	StatusAgentVerified   Status = "agent_verified"
	StatusAwaitingLawyer  Status = "awaiting_lawyer"
	StatusLawyerVerified  Status = "lawyer_verified"
	StatusActive          Status = "active"
	StatusSuspended       Status = "suspended"
	StatusRejected        Status = "rejected"
	StatusSold            Status = "sold"
	StatusRented          Status = "rented"
)

// Listing is the set of fields create_property normalizes into a
// dedup hash; it is not the full properties row.
type Listing struct {
	LandlordID   uuid.UUID
	Title        string
	Description  string
	Address      string
	City         string
	State        string
	LGA          string
	Country      string
	Latitude     *float64
	Longitude    *float64
	PropertyType string
	ListingType  string
	Bedrooms     *int32
	Bathrooms    *int32
	SizeSqm      *float64
	Price        int64
	DocumentURLs []string
}

// Property is the row create_property and the pipeline transitions act on.
type Property struct {
	ID                uuid.UUID
	LandlordID        uuid.UUID
	AgentID           *uuid.UUID
	LawyerID          *uuid.UUID
	Title             string
	Description       string
	Address           string
	City              string
	State             string
	LGA               *string
	Country           string
	Latitude          *float64
	Longitude         *float64
	PropertyType      string
	ListingType       string
	Bedrooms          *int32
	Bathrooms         *int32
	SizeSqm           *float64
	Price             int64
	DocumentURLs      []string
	PropertyHash      string
	CoordinatesHash   string
	Status            Status
	AgentVerifiedAt   *time.Time
	LawyerVerifiedAt  *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Engine is the self-transacting property pipeline.
type Engine struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Engine {
	return &Engine{pool: pool}
}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			log.WithError(rbErr).Error("rollback failed after property operation error")
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// propertyHash hashes the normalized, lowercased listing fields that
// identify a distinct unit — address, location, type, listing kind,
// bedrooms and size — so two submissions of the same unit collide
// regardless of whitespace or casing differences in free-text fields.
func propertyHash(l Listing) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(l.Address))))
	h.Write([]byte(strings.ToLower(strings.TrimSpace(l.City))))
	h.Write([]byte(strings.ToLower(strings.TrimSpace(l.State))))
	h.Write([]byte(strings.ToLower(strings.TrimSpace(l.LGA))))
	h.Write([]byte(strings.ToLower(strings.TrimSpace(l.Country))))
	h.Write([]byte(strings.ToLower(strings.TrimSpace(l.PropertyType))))
	h.Write([]byte(strings.ToLower(strings.TrimSpace(l.ListingType))))
	if l.Bedrooms != nil {
		h.Write([]byte(strconv.Itoa(int(*l.Bedrooms))))
	}
	if l.SizeSqm != nil {
		h.Write([]byte(strconv.FormatFloat(*l.SizeSqm, 'f', -1, 64)))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// coordinatesHash buckets lat/lng to 3 decimal places (~100m) so
// near-duplicate submissions of the same physical location collide;
// a listing with no coordinates hashes to the fixed sentinel
// "no_coordinates" rather than colliding with (0, 0).
func coordinatesHash(lat, lng *float64) string {
	if lat == nil || lng == nil {
		return "no_coordinates"
	}
	roundedLat := roundTo3(*lat)
	roundedLng := roundTo3(*lng)
	h := sha256.New()
	h.Write([]byte(strconv.FormatFloat(roundedLat, 'f', 3, 64)))
	h.Write([]byte(strconv.FormatFloat(roundedLng, 'f', 3, 64)))
	return fmt.Sprintf("%x", h.Sum(nil))
}

func roundTo3(v float64) float64 {
	return float64(int64(v*1000+sign(v)*0.5)) / 1000
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

const propertyColumns = `id, landlord_id, agent_id, lawyer_id, title, description,
	address, city, state, lga, country, latitude, longitude,
	property_type, listing_type, bedrooms, bathrooms, size_sqm, price,
	document_urls, property_hash, coordinates_hash, status,
	agent_verified_at, lawyer_verified_at, created_at, updated_at`

func scanProperty(row pgx.Row) (*Property, error) {
	var p Property
	if err := row.Scan(
		&p.ID, &p.LandlordID, &p.AgentID, &p.LawyerID, &p.Title, &p.Description,
		&p.Address, &p.City, &p.State, &p.LGA, &p.Country, &p.Latitude, &p.Longitude,
		&p.PropertyType, &p.ListingType, &p.Bedrooms, &p.Bathrooms, &p.SizeSqm, &p.Price,
		&p.DocumentURLs, &p.PropertyHash, &p.CoordinatesHash, &p.Status,
		&p.AgentVerifiedAt, &p.LawyerVerifiedAt, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, verrors.Wrap(verrors.KindNotFound, "property not found", verrors.ErrPropertyNotFound)
		}
		return nil, fmt.Errorf("scan property: %w", err)
	}
	return &p, nil
}

// GetProperty fetches a property without a row lock, for read paths.
func (e *Engine) GetProperty(ctx context.Context, propertyID uuid.UUID) (*Property, error) {
	row := e.pool.QueryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = $1`, propertyID)
	return scanProperty(row)
}

func lockPropertyTx(ctx context.Context, tx pgx.Tx, propertyID uuid.UUID) (*Property, error) {
	row := tx.QueryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = $1 FOR UPDATE`, propertyID)
	return scanProperty(row)
}

// CreateProperty computes the dedup hashes and inserts a draft →
// awaiting_agent property row, per spec §4.4. The unique partial index
// on (property_hash, coordinates_hash) WHERE status <> 'rejected' is
// the actual race-proof guard; this function's own duplicate check is
// an early, friendlier rejection for the common non-concurrent case.
func (e *Engine) CreateProperty(ctx context.Context, l Listing) (*Property, error) {
	if strings.TrimSpace(l.Title) == "" {
		return nil, verrors.New(verrors.KindValidation, "title is required")
	}
	if l.Price < 0 {
		return nil, verrors.New(verrors.KindValidation, "price cannot be negative")
	}

	pHash := propertyHash(l)
	cHash := coordinatesHash(l.Latitude, l.Longitude)

	var out *Property
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		var existing int
		if err := tx.QueryRow(ctx, `
			SELECT count(*) FROM properties
			WHERE property_hash = $1 AND coordinates_hash = $2 AND status <> 'rejected'`,
			pHash, cHash).Scan(&existing); err != nil {
			return fmt.Errorf("check duplicate: %w", err)
		}
		if existing > 0 {
			return verrors.Wrap(verrors.KindConflict, "an equivalent property listing already exists", verrors.ErrPropertyDuplicate)
		}

		var lga *string
		if l.LGA != "" {
			lga = &l.LGA
		}

		propertyID := uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO properties (
				id, landlord_id, title, description, address, city, state, lga, country,
				latitude, longitude, property_type, listing_type, bedrooms, bathrooms,
				size_sqm, price, document_urls, property_hash, coordinates_hash, status
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,'awaiting_agent')`,
			propertyID, l.LandlordID, l.Title, l.Description, l.Address, l.City, l.State, lga, l.Country,
			l.Latitude, l.Longitude, l.PropertyType, l.ListingType, l.Bedrooms, l.Bathrooms,
			l.SizeSqm, l.Price, l.DocumentURLs, pHash, cHash); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return verrors.Wrap(verrors.KindConflict, "an equivalent property listing already exists", verrors.ErrPropertyDuplicate)
			}
			return fmt.Errorf("insert property: %w", err)
		}

		p, err := scanProperty(tx.QueryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = $1`, propertyID))
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// AssignAgent and AssignLawyer are the admin-performed assignment step
// spec §4.4 names but does not itself operate — role enforcement at the
// approve/reject call sites depends on these columns being set first.
// Supplements the distillation per original_source/Backend/src/db/propertydb.rs.
func (e *Engine) AssignAgent(ctx context.Context, propertyID, agentID uuid.UUID) error {
	cmd, err := e.pool.Exec(ctx, `
		UPDATE properties SET agent_id = $1, updated_at = now()
		WHERE id = $2 AND status = 'awaiting_agent'`, agentID, propertyID)
	if err != nil {
		return fmt.Errorf("assign agent: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return verrors.Wrap(verrors.KindConflict, "property is not awaiting agent assignment", verrors.ErrInvalidPropertyState)
	}
	return nil
}

func (e *Engine) AssignLawyer(ctx context.Context, propertyID, lawyerID uuid.UUID) error {
	cmd, err := e.pool.Exec(ctx, `
		UPDATE properties SET lawyer_id = $1, updated_at = now()
		WHERE id = $2 AND status = 'awaiting_lawyer'`, lawyerID, propertyID)
	if err != nil {
		return fmt.Errorf("assign lawyer: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return verrors.Wrap(verrors.KindConflict, "property is not awaiting lawyer assignment", verrors.ErrInvalidPropertyState)
	}
	return nil
}

// AgentApprove moves awaiting_agent → awaiting_lawyer. The caller must
// be the property's assigned agent, per spec §4.4's "enforced at the
// transition call site" rule.
func (e *Engine) AgentApprove(ctx context.Context, propertyID, agentID uuid.UUID, notes string) (*Property, error) {
	return e.transitionJobLike(ctx, propertyID, agentID, "agent", StatusAwaitingAgent, StatusAwaitingLawyer, "agent_verified_at", "approve", notes)
}

// AgentReject moves awaiting_agent → rejected (terminal).
func (e *Engine) AgentReject(ctx context.Context, propertyID, agentID uuid.UUID, notes string) (*Property, error) {
	return e.transitionJobLike(ctx, propertyID, agentID, "agent", StatusAwaitingAgent, StatusRejected, "", "reject", notes)
}

// LawyerApprove moves awaiting_lawyer → active.
func (e *Engine) LawyerApprove(ctx context.Context, propertyID, lawyerID uuid.UUID, notes string) (*Property, error) {
	return e.transitionJobLike(ctx, propertyID, lawyerID, "lawyer", StatusAwaitingLawyer, StatusActive, "lawyer_verified_at", "approve", notes)
}

// LawyerReject moves awaiting_lawyer → rejected (terminal).
func (e *Engine) LawyerReject(ctx context.Context, propertyID, lawyerID uuid.UUID, notes string) (*Property, error) {
	return e.transitionJobLike(ctx, propertyID, lawyerID, "lawyer", StatusAwaitingLawyer, StatusRejected, "", "reject", notes)
}

// transitionJobLike is the shared guard for the four approve/reject
// edges: lock the row, confirm the caller holds the matching role
// column and the property sits at the expected status, then move it
// and append a property_verifications audit row in the same
// transaction.
func (e *Engine) transitionJobLike(ctx context.Context, propertyID, callerID uuid.UUID, role string, from, to Status, verifiedAtColumn, action, notes string) (*Property, error) {
	var out *Property
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		p, err := lockPropertyTx(ctx, tx, propertyID)
		if err != nil {
			return err
		}
		if p.Status != from {
			return verrors.Wrap(verrors.KindConflict,
				fmt.Sprintf("property is not %s", from), verrors.ErrInvalidPropertyState)
		}
		switch role {
		case "agent":
			if p.AgentID == nil || *p.AgentID != callerID {
				return verrors.Wrap(verrors.KindUnauthorized, "caller is not this property's assigned agent", verrors.ErrNotAssignedVerifier)
			}
		case "lawyer":
			if p.LawyerID == nil || *p.LawyerID != callerID {
				return verrors.Wrap(verrors.KindUnauthorized, "caller is not this property's assigned lawyer", verrors.ErrNotAssignedVerifier)
			}
		}

		if verifiedAtColumn != "" {
			if _, err := tx.Exec(ctx, fmt.Sprintf(`
				UPDATE properties SET status = $1, %s = now(), updated_at = now() WHERE id = $2`, verifiedAtColumn),
				to, propertyID); err != nil {
				return fmt.Errorf("update property status: %w", err)
			}
		} else {
			if _, err := tx.Exec(ctx, `
				UPDATE properties SET status = $1, updated_at = now() WHERE id = $2`, to, propertyID); err != nil {
				return fmt.Errorf("update property status: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO property_verifications (id, property_id, verifier_id, role, action, notes)
			VALUES ($1,$2,$3,$4,$5,$6)`, uuid.New(), propertyID, callerID, role, action, notes); err != nil {
			return fmt.Errorf("insert verification audit row: %w", err)
		}

		p.Status = to
		out = p
		return nil
	})
	return out, err
}

// ListAwaitingLawyer implements spec §4.4's lawyer-verification
// listing query: properties at awaiting_lawyer whose lawyer is either
// unassigned or this lawyer.
func (e *Engine) ListAwaitingLawyer(ctx context.Context, lawyerID uuid.UUID, limit, offset int32) ([]*Property, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT `+propertyColumns+` FROM properties
		WHERE status = 'awaiting_lawyer' AND (lawyer_id IS NULL OR lawyer_id = $1)
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`, lawyerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list awaiting-lawyer properties: %w", err)
	}
	defer rows.Close()
	return collectProperties(rows)
}

// SearchFilters narrows Search to the active-listing fields spec §4.4's
// supplemented search query exposes. Zero-value fields are unfiltered.
type SearchFilters struct {
	City         string
	State        string
	PropertyType string
	ListingType  string
	MinPrice     int64
	MaxPrice     int64
}

// Search lists active properties by filter, supplementing the
// distillation per original_source/Backend/src/db/propertydb.rs's
// search query.
func (e *Engine) Search(ctx context.Context, f SearchFilters, limit, offset int32) ([]*Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE status = 'active'`
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.City != "" {
		query += ` AND lower(city) = lower(` + arg(f.City) + `)`
	}
	if f.State != "" {
		query += ` AND lower(state) = lower(` + arg(f.State) + `)`
	}
	if f.PropertyType != "" {
		query += ` AND property_type = ` + arg(f.PropertyType)
	}
	if f.ListingType != "" {
		query += ` AND listing_type = ` + arg(f.ListingType)
	}
	if f.MinPrice > 0 {
		query += ` AND price >= ` + arg(f.MinPrice)
	}
	if f.MaxPrice > 0 {
		query += ` AND price <= ` + arg(f.MaxPrice)
	}
	query += ` ORDER BY created_at DESC LIMIT ` + arg(limit) + ` OFFSET ` + arg(offset)

	rows, err := e.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search properties: %w", err)
	}
	defer rows.Close()
	return collectProperties(rows)
}

// VerificationHistory returns the audit trail for a property, newest
// first, supplementing the distillation's dropped audit read.
func (e *Engine) VerificationHistory(ctx context.Context, propertyID uuid.UUID) ([]VerificationEvent, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT id, property_id, verifier_id, role, action, notes, created_at
		FROM property_verifications WHERE property_id = $1 ORDER BY created_at DESC`, propertyID)
	if err != nil {
		return nil, fmt.Errorf("list verification history: %w", err)
	}
	defer rows.Close()

	var out []VerificationEvent
	for rows.Next() {
		var v VerificationEvent
		if err := rows.Scan(&v.ID, &v.PropertyID, &v.VerifierID, &v.Role, &v.Action, &v.Notes, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan verification event: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// VerificationEvent is one property_verifications audit row.
type VerificationEvent struct {
	ID         uuid.UUID
	PropertyID uuid.UUID
	VerifierID uuid.UUID
	Role       string
	Action     string
	Notes      string
	CreatedAt  time.Time
}

func collectProperties(rows pgx.Rows) ([]*Property, error) {
	var out []*Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
