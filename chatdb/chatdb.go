// Package chatdb is two-party chat persistence plus contract-proposal
// emission, supplemented from
// original_source/Backend/src/handler/chat.rs and
// models/chatnodels.rs, which the distillation's Data Model names but
// doesn't otherwise flesh out. A chat is a durable pairing of two
// users, optionally opened against a labor.Job; messages are ordered
// within a chat; a contract proposal is a structured message that can
// be accepted (wiring straight into labor.Engine.AssignWorker) or
// rejected in a single transition, mirroring the ControlTower guard
// idiom the rest of this repo uses for status transitions.
//
// Reads are fronted by rcache per the S6 scenario: list/unread-count
// queries check the cache first and fall back to Postgres on a miss,
// writes invalidate the affected keys. A cache outage degrades to
// always-miss, never to a request failure.
package chatdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/chigozirigeorge/verinest/labor"
	"github.com/chigozirigeorge/verinest/rcache"
	"github.com/chigozirigeorge/verinest/verrors"
)

func marshalJSON(v map[string]interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(raw []byte, out *map[string]interface{}) error {
	return json.Unmarshal(raw, out)
}

// MessageKind matches the messages.kind CHECK constraint.
type MessageKind string

const (
	MessageText             MessageKind = "text"
	MessageContractProposal MessageKind = "contract_proposal"
	MessageImage            MessageKind = "image"
)

// ProposalStatus matches the contract_proposals.status CHECK constraint.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

type Chat struct {
	ID               uuid.UUID
	ParticipantOneID uuid.UUID
	ParticipantTwoID uuid.UUID
	JobID            *uuid.UUID
	LastMessageAt    *time.Time
	CreatedAt        time.Time
}

type Message struct {
	ID        uuid.UUID
	ChatID    uuid.UUID
	SenderID  uuid.UUID
	Body      string
	Kind      MessageKind
	Metadata  map[string]interface{}
	ReadAt    *time.Time
	CreatedAt time.Time
}

type ContractProposal struct {
	ID           uuid.UUID
	MessageID    uuid.UUID
	ChatID       uuid.UUID
	JobID        uuid.UUID
	ProposedBy   uuid.UUID
	WorkerID     uuid.UUID
	EmployerID   uuid.UUID
	ProposedRate int64
	TimelineDays int32
	Terms        string
	Status       ProposalStatus
	CreatedAt    time.Time
	RespondedAt  *time.Time
}

// Engine owns chat persistence, cache invalidation, and the single
// seam into labor.Engine a proposal acceptance needs.
type Engine struct {
	pool  *pgxpool.Pool
	cache *rcache.Cache
	labor *labor.Engine
}

func New(pool *pgxpool.Pool, cache *rcache.Cache, laborEngine *labor.Engine) *Engine {
	return &Engine{pool: pool, cache: cache, labor: laborEngine}
}

// orderedPair returns the two ids in a fixed order so a chat between
// A and B is always stored the same way regardless of who opened it
// first, letting the participant_one/participant_two UNIQUE constraint
// do the deduplication.
func orderedPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() <= b.String() {
		return a, b
	}
	return b, a
}

func scanChat(row pgx.Row) (*Chat, error) {
	var c Chat
	if err := row.Scan(&c.ID, &c.ParticipantOneID, &c.ParticipantTwoID, &c.JobID, &c.LastMessageAt, &c.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, verrors.Wrap(verrors.KindNotFound, "chat not found", verrors.ErrChatNotFound)
		}
		return nil, fmt.Errorf("scan chat: %w", err)
	}
	return &c, nil
}

// CreateOrGetChat returns the existing chat between userA and userB if
// one exists, creating it (optionally tied to jobID) otherwise.
func (e *Engine) CreateOrGetChat(ctx context.Context, userA, userB uuid.UUID, jobID *uuid.UUID) (*Chat, error) {
	one, two := orderedPair(userA, userB)

	row := e.pool.QueryRow(ctx, `
		INSERT INTO chats (participant_one_id, participant_two_id, job_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant_one_id, participant_two_id) DO UPDATE SET participant_one_id = chats.participant_one_id
		RETURNING id, participant_one_id, participant_two_id, job_id, last_message_at, created_at
	`, one, two, jobID)
	chat, err := scanChat(row)
	if err != nil {
		return nil, err
	}

	e.cache.InvalidateUserChats(ctx, one)
	e.cache.InvalidateUserChats(ctx, two)
	return chat, nil
}

func (e *Engine) GetChat(ctx context.Context, chatID uuid.UUID) (*Chat, error) {
	if cached, ok := rcache.Get[Chat](ctx, e.cache, rcache.ChatKey(chatID)); ok {
		return &cached, nil
	}
	row := e.pool.QueryRow(ctx, `
		SELECT id, participant_one_id, participant_two_id, job_id, last_message_at, created_at
		FROM chats WHERE id = $1
	`, chatID)
	chat, err := scanChat(row)
	if err != nil {
		return nil, err
	}
	rcache.Set(ctx, e.cache, rcache.ChatKey(chatID), chat, rcache.ChatTTL)
	return chat, nil
}

func requireParticipant(chat *Chat, userID uuid.UUID) error {
	if chat.ParticipantOneID != userID && chat.ParticipantTwoID != userID {
		return verrors.Wrap(verrors.KindUnauthorized, "caller is not a participant of this chat", verrors.ErrNotChatParticipant)
	}
	return nil
}

func otherParticipant(chat *Chat, userID uuid.UUID) uuid.UUID {
	if chat.ParticipantOneID == userID {
		return chat.ParticipantTwoID
	}
	return chat.ParticipantOneID
}

// ListUserChats returns a user's chats ordered by most recent
// activity, paginated by page (1-based) and limit.
func (e *Engine) ListUserChats(ctx context.Context, userID uuid.UUID, page, limit int) ([]Chat, error) {
	if page < 1 {
		page = 1
	}
	key := rcache.UserChatsKey(userID, page)
	if cached, ok := rcache.Get[[]Chat](ctx, e.cache, key); ok {
		return cached, nil
	}

	offset := (page - 1) * limit
	rows, err := e.pool.Query(ctx, `
		SELECT id, participant_one_id, participant_two_id, job_id, last_message_at, created_at
		FROM chats
		WHERE participant_one_id = $1 OR participant_two_id = $1
		ORDER BY COALESCE(last_message_at, created_at) DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rcache.Set(ctx, e.cache, key, chats, rcache.UserChatsTTL)
	return chats, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var metadata []byte
	if err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Body, &m.Kind, &metadata, &m.ReadAt, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if len(metadata) > 0 {
		if err := unmarshalJSON(metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode message metadata: %w", err)
		}
	}
	return &m, nil
}

// SendMessage inserts a message into chatID from senderID, bumps the
// chat's last_message_at, and invalidates every cache entry the new
// message could have made stale.
func (e *Engine) SendMessage(ctx context.Context, chatID, senderID uuid.UUID, kind MessageKind, body string, metadata map[string]interface{}) (*Message, error) {
	chat, err := e.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(chat, senderID); err != nil {
		return nil, err
	}

	metadataJSON, err := marshalJSON(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode message metadata: %w", err)
	}

	row := e.pool.QueryRow(ctx, `
		INSERT INTO messages (chat_id, sender_id, body, kind, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, chat_id, sender_id, body, kind, metadata, read_at, created_at
	`, chatID, senderID, body, string(kind), metadataJSON)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, err
	}

	if _, err := e.pool.Exec(ctx, `UPDATE chats SET last_message_at = now() WHERE id = $1`, chatID); err != nil {
		return nil, fmt.Errorf("bump chat last_message_at: %w", err)
	}

	e.cache.InvalidateChat(ctx, chatID, chat.ParticipantOneID, chat.ParticipantTwoID)
	e.cache.InvalidateUnread(ctx, otherParticipant(chat, senderID))
	return msg, nil
}

// ListMessages returns a chat's messages newest-first, paginated.
func (e *Engine) ListMessages(ctx context.Context, chatID, callerID uuid.UUID, page, limit int) ([]Message, error) {
	chat, err := e.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(chat, callerID); err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	key := rcache.MessagesKey(chatID, page)
	if cached, ok := rcache.Get[[]Message](ctx, e.cache, key); ok {
		return cached, nil
	}

	offset := (page - 1) * limit
	rows, err := e.pool.Query(ctx, `
		SELECT id, chat_id, sender_id, body, kind, metadata, read_at, created_at
		FROM messages WHERE chat_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rcache.Set(ctx, e.cache, key, messages, rcache.MessagesTTL)
	return messages, nil
}

// MarkRead marks every message in chatID not sent by callerID as read.
func (e *Engine) MarkRead(ctx context.Context, chatID, callerID uuid.UUID) error {
	chat, err := e.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if err := requireParticipant(chat, callerID); err != nil {
		return err
	}

	if _, err := e.pool.Exec(ctx, `
		UPDATE messages SET read_at = now()
		WHERE chat_id = $1 AND sender_id <> $2 AND read_at IS NULL
	`, chatID, callerID); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}

	e.cache.InvalidateUnread(ctx, callerID)
	return nil
}

// UnreadCount returns how many messages across all of userID's chats
// are unread.
func (e *Engine) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	key := rcache.UnreadCountKey(userID)
	if cached, ok := rcache.Get[int64](ctx, e.cache, key); ok {
		return cached, nil
	}

	var count int64
	err := e.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages m
		JOIN chats c ON c.id = m.chat_id
		WHERE (c.participant_one_id = $1 OR c.participant_two_id = $1)
		  AND m.sender_id <> $1
		  AND m.read_at IS NULL
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}

	rcache.Set(ctx, e.cache, key, count, rcache.UnreadCountTTL)
	return count, nil
}

func scanProposal(row pgx.Row) (*ContractProposal, error) {
	var p ContractProposal
	if err := row.Scan(&p.ID, &p.MessageID, &p.ChatID, &p.JobID, &p.ProposedBy, &p.WorkerID, &p.EmployerID,
		&p.ProposedRate, &p.TimelineDays, &p.Terms, &p.Status, &p.CreatedAt, &p.RespondedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, verrors.Wrap(verrors.KindNotFound, "contract proposal not found", verrors.ErrProposalNotFound)
		}
		return nil, fmt.Errorf("scan contract proposal: %w", err)
	}
	return &p, nil
}

// ProposeContract raises a structured contract-proposal message inside
// chatID referencing jobID, determining worker/employer from the job
// and the chat's other participant, per
// original_source/Backend/src/handler/chat.rs's
// propose_contract_from_chat.
func (e *Engine) ProposeContract(ctx context.Context, chatID, proposerID, jobID uuid.UUID, rate int64, timelineDays int32, terms string) (*Message, *ContractProposal, error) {
	chat, err := e.GetChat(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	if err := requireParticipant(chat, proposerID); err != nil {
		return nil, nil, err
	}

	job, err := e.labor.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	other := otherParticipant(chat, proposerID)
	var workerID, employerID uuid.UUID
	if job.EmployerID == proposerID {
		workerID, employerID = other, proposerID
	} else {
		workerID, employerID = proposerID, other
	}

	metadata := map[string]interface{}{
		"job_id":        jobID.String(),
		"agreed_rate":   rate,
		"timeline_days": timelineDays,
	}
	msg, err := e.SendMessage(ctx, chatID, proposerID, MessageContractProposal,
		fmt.Sprintf("Contract proposal for job %q", job.Title), metadata)
	if err != nil {
		return nil, nil, err
	}

	row := e.pool.QueryRow(ctx, `
		INSERT INTO contract_proposals
			(message_id, chat_id, job_id, proposed_by, worker_id, employer_id, proposed_rate, timeline_days, terms, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending')
		RETURNING id, message_id, chat_id, job_id, proposed_by, worker_id, employer_id,
			proposed_rate, timeline_days, terms, status, created_at, responded_at
	`, msg.ID, chatID, jobID, proposerID, workerID, employerID, rate, timelineDays, terms)
	proposal, err := scanProposal(row)
	if err != nil {
		return nil, nil, err
	}

	e.cache.Delete(ctx, rcache.ContractProposalKey(proposal.ID))
	return msg, proposal, nil
}

// RespondToProposal accepts or rejects a pending proposal. Acceptance
// wires straight into labor.Engine.AssignWorker, which funds escrow
// and moves the job to in_progress in its own transaction; this
// function only records the proposal outcome once that succeeds, so a
// failed assignment (e.g. insufficient employer funds) leaves the
// proposal pending rather than silently accepted.
func (e *Engine) RespondToProposal(ctx context.Context, proposalID, responderID, employerWalletID uuid.UUID, accept bool) (*ContractProposal, error) {
	row := e.pool.QueryRow(ctx, `
		SELECT id, message_id, chat_id, job_id, proposed_by, worker_id, employer_id,
			proposed_rate, timeline_days, terms, status, created_at, responded_at
		FROM contract_proposals WHERE id = $1 FOR UPDATE
	`, proposalID)
	proposal, err := scanProposal(row)
	if err != nil {
		return nil, err
	}
	if proposal.Status != ProposalPending {
		return nil, verrors.Wrap(verrors.KindConflict, "proposal already responded to", verrors.ErrInvalidProposalStatus)
	}
	if proposal.ProposedBy == responderID {
		return nil, verrors.Wrap(verrors.KindValidation, "cannot respond to your own proposal", verrors.ErrCannotRespondToOwnProposal)
	}
	if proposal.WorkerID != responderID && proposal.EmployerID != responderID {
		return nil, verrors.Wrap(verrors.KindUnauthorized, "caller is not a party to this proposal", verrors.ErrNotProposalParty)
	}

	status := ProposalRejected
	if accept {
		if _, err := e.labor.AssignWorker(ctx, proposal.JobID, proposal.EmployerID, proposal.WorkerID, employerWalletID); err != nil {
			return nil, err
		}
		status = ProposalAccepted
	}

	row = e.pool.QueryRow(ctx, `
		UPDATE contract_proposals SET status = $1, responded_at = now()
		WHERE id = $2
		RETURNING id, message_id, chat_id, job_id, proposed_by, worker_id, employer_id,
			proposed_rate, timeline_days, terms, status, created_at, responded_at
	`, string(status), proposalID)
	updated, err := scanProposal(row)
	if err != nil {
		return nil, err
	}

	e.cache.Delete(ctx, rcache.ContractProposalKey(proposalID))
	return updated, nil
}
