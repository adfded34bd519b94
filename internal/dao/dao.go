package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/tools"
)

var ErrNotFound = errors.New("not found")

// ErrNotProcessing is returned when an outcome is written for a message that is no longer claimed
var ErrNotProcessing = errors.New("message is not processing")

type DAO interface {
	InsertMessage(ctx context.Context, m *kuvert.Message) error
	GetMessage(ctx context.Context, id string) (*kuvert.Message, error)
	ListMessages(ctx context.Context, f MessageFilter) (messages []kuvert.Message, total int, err error)
	CountMessages(ctx context.Context) (map[kuvert.Status]int, error)
	MessageLog(ctx context.Context, id string) ([]LogEntry, error)

	DueMessages(ctx context.Context, now time.Time, limit int) ([]kuvert.Message, error)
	StaleMessages(ctx context.Context, before time.Time, limit int) ([]kuvert.Message, error)
	ClaimMessage(ctx context.Context, id string, now time.Time) (bool, error)
	MarkSent(ctx context.Context, id string, now time.Time) error
	MarkRetry(ctx context.Context, id string, reason string, next time.Time, now time.Time) error
	MarkFailed(ctx context.Context, id string, reason string, now time.Time) error
	CancelMessage(ctx context.Context, id string, now time.Time) (bool, error)
	RetryMessage(ctx context.Context, id string, now time.Time) (bool, error)
	PurgeSent(ctx context.Context, before time.Time) (int64, error)

	InsertCampaign(ctx context.Context, c *kuvert.Campaign) error
	GetCampaign(ctx context.Context, id string) (*kuvert.Campaign, error)
	ListCampaigns(ctx context.Context, f CampaignFilter) (campaigns []kuvert.Campaign, total int, err error)
	TransitionCampaign(ctx context.Context, id string, from []kuvert.CampaignStatus, to kuvert.CampaignStatus, now time.Time) (bool, error)
	ScheduleCampaign(ctx context.Context, id string, at time.Time, now time.Time) (bool, error)
	FinishCampaign(ctx context.Context, c *kuvert.Campaign, now time.Time) error
	DueCampaigns(ctx context.Context, now time.Time) ([]kuvert.Campaign, error)
	StaleCampaigns(ctx context.Context, before time.Time) ([]kuvert.Campaign, error)

	InsertRegistration(ctx context.Context, r *kuvert.Registration) error
	ListRegistrations(ctx context.Context, f RegistrationFilter) ([]kuvert.Registration, error)
	GetRegistration(ctx context.Context, id string) (*kuvert.Registration, error)

	Close() error
}

// New opens the store, postgres:// and postgresql:// uris use postgres, anything else is treated as a sqlite path
func New(uri string, lc *tools.Logger) (DAO, error) {
	s := &store{
		uri: uri,
		log: lc.New("dao"),
	}
	s.driver = "sqlite3"
	if strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://") {
		s.driver = "postgres"
	}

	err := s.connect()
	if err != nil {
		return nil, err
	}
	err = s.ensureSchema()
	if err != nil {
		_ = s.db.Close()
		return nil, err
	}
	return s, nil
}

type store struct {
	db     *sqlx.DB
	uri    string
	driver string
	log    *logrus.Logger
}

const messageColumns = `id, recipient_name, recipient_email, subject, body_text, body_html, kind, priority,
	status, scheduled_at, attempt_count, max_attempts, last_attempt_at, sent_at, error_message,
	correlation_id, campaign_id, campaign_name, created_at, updated_at`

const campaignColumns = `id, name, subject, body_text, body_html, audience, status,
	scheduled_at, started_at, completed_at, recipients, queued, failed, created_at, updated_at`

func (s *store) Close() error {
	return s.db.Close()
}

func (s *store) InsertMessage(ctx context.Context, m *kuvert.Message) (err error) {
	q := `
	INSERT INTO message (` + messageColumns + `)
	VALUES (:id, :recipient_name, :recipient_email, :subject, :body_text, :body_html, :kind, :priority,
	        :status, :scheduled_at, :attempt_count, :max_attempts, :last_attempt_at, :sent_at, :error_message,
	        :correlation_id, :campaign_id, :campaign_name, :created_at, :updated_at)
	`
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, q, messageRow{
			Message:        *m,
			RecipientName:  m.Recipient.Name,
			RecipientEmail: m.Recipient.Email,
		})
		if err != nil {
			return fmt.Errorf("failed to insert into message table, %w", err)
		}
		return s.addLogTx(ctx, tx, m.ID, m.CreatedAt, "message has been enqueued as %s, eligible from %s", m.Status, m.ScheduledAt.Format(time.RFC3339))
	})
}

func (s *store) GetMessage(ctx context.Context, id string) (*kuvert.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM message WHERE id = ?`
	var row messageRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(q), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s, %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("could not get message %s, %w", id, err)
	}
	m := row.message()
	return &m, nil
}

func (s *store) ListMessages(ctx context.Context, f MessageFilter) ([]kuvert.Message, int, error) {
	var where []string
	var args []interface{}
	if len(f.Status) > 0 {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if len(f.CampaignID) > 0 {
		where = append(where, "campaign_id = ?")
		args = append(args, f.CampaignID)
	}
	if len(f.Kind) > 0 {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if len(f.CorrelationID) > 0 {
		where = append(where, "correlation_id = ?")
		args = append(args, f.CorrelationID)
	}
	cond := ""
	if len(where) > 0 {
		cond = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT COUNT(*) FROM message `+cond), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("could not count messages, %w", err)
	}

	q := `SELECT ` + messageColumns + ` FROM message ` + cond + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	var rows []messageRow
	err = s.db.SelectContext(ctx, &rows, s.db.Rebind(q), append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("could not list messages, %w", err)
	}
	return toMessages(rows), total, nil
}

func (s *store) CountMessages(ctx context.Context) (map[kuvert.Status]int, error) {
	var rows []struct {
		Status kuvert.Status `db:"status"`
		Count  int           `db:"count"`
	}
	err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM message GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("could not count messages by status, %w", err)
	}
	counts := map[kuvert.Status]int{}
	for _, st := range kuvert.Statuses {
		counts[st] = 0
	}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (s *store) MessageLog(ctx context.Context, id string) ([]LogEntry, error) {
	q := `SELECT id, message_id, created_at, log FROM message_log WHERE message_id = ? ORDER BY id`
	var entries []LogEntry
	err := s.db.SelectContext(ctx, &entries, s.db.Rebind(q), id)
	if err != nil {
		return nil, fmt.Errorf("could not get log for %s, %w", id, err)
	}
	return entries, nil
}

func (s *store) DueMessages(ctx context.Context, now time.Time, limit int) ([]kuvert.Message, error) {
	q := `
	    SELECT ` + messageColumns + `
		FROM message
		WHERE status IN ('pending', 'scheduled')
		  AND scheduled_at <= ?
		  AND attempt_count < max_attempts
		ORDER BY priority, scheduled_at, created_at
		LIMIT ?
	`
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("could not select due messages, %w", err)
	}
	return toMessages(rows), nil
}

func (s *store) StaleMessages(ctx context.Context, before time.Time, limit int) ([]kuvert.Message, error) {
	q := `
	    SELECT ` + messageColumns + `
		FROM message
		WHERE status = 'processing'
		  AND last_attempt_at < ?
		ORDER BY last_attempt_at
		LIMIT ?
	`
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("could not select stale messages, %w", err)
	}
	return toMessages(rows), nil
}

// ClaimMessage moves a due message into processing and counts the attempt. It
// returns false if the message was cancelled or claimed since it was selected.
func (s *store) ClaimMessage(ctx context.Context, id string, now time.Time) (claimed bool, err error) {
	q := `
		UPDATE message
		SET status = 'processing',
		    attempt_count = attempt_count + 1,
		    last_attempt_at = ?,
		    updated_at = ?
		WHERE id = ?
		  AND status IN ('pending', 'scheduled')
		  AND attempt_count < max_attempts
	`
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(q), now.UTC(), now.UTC(), id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		claimed = affected == 1
		if !claimed {
			return nil
		}
		return s.addLogTx(ctx, tx, id, now, "claimed by processor")
	})
	if err != nil {
		return false, fmt.Errorf("could not claim message %s, %w", id, err)
	}
	return claimed, nil
}

func (s *store) MarkSent(ctx context.Context, id string, now time.Time) error {
	q := `
		UPDATE message
		SET status = 'sent', sent_at = ?, error_message = NULL, updated_at = ?
		WHERE id = ? AND status = 'processing'
	`
	return s.outcome(ctx, id, now, "delivered to transport", q, now.UTC(), now.UTC(), id)
}

func (s *store) MarkRetry(ctx context.Context, id string, reason string, next time.Time, now time.Time) error {
	q := `
		UPDATE message
		SET status = 'pending', scheduled_at = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'
	`
	return s.outcome(ctx, id, now, fmt.Sprintf("attempt failed, retrying from %s: %s", next.UTC().Format(time.RFC3339), reason),
		q, next.UTC(), reason, now.UTC(), id)
}

func (s *store) MarkFailed(ctx context.Context, id string, reason string, now time.Time) error {
	q := `
		UPDATE message
		SET status = 'failed', error_message = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'
	`
	return s.outcome(ctx, id, now, "attempts exhausted, failing: "+reason, q, reason, now.UTC(), id)
}

func (s *store) outcome(ctx context.Context, id string, now time.Time, log string, q string, args ...interface{}) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(q), args...)
		if err != nil {
			return fmt.Errorf("could not update message %s, %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected != 1 {
			return fmt.Errorf("message %s, %w", id, ErrNotProcessing)
		}
		return s.addLogTx(ctx, tx, id, now, "%s", log)
	})
}

func (s *store) CancelMessage(ctx context.Context, id string, now time.Time) (bool, error) {
	q := `
		UPDATE message
		SET status = 'cancelled', updated_at = ?
		WHERE id = ? AND status IN ('pending', 'scheduled')
	`
	return s.transition(ctx, id, now, "cancelled by operator", q, now.UTC(), id)
}

// RetryMessage resets a failed or cancelled message, giving it a fresh attempt budget
func (s *store) RetryMessage(ctx context.Context, id string, now time.Time) (bool, error) {
	q := `
		UPDATE message
		SET status = 'pending', scheduled_at = ?, attempt_count = 0, error_message = NULL, updated_at = ?
		WHERE id = ? AND status IN ('failed', 'cancelled')
	`
	return s.transition(ctx, id, now, "requeued by operator", q, now.UTC(), now.UTC(), id)
}

// transition runs a conditional update, a missing message is reported as ErrNotFound and
// a message in the wrong state as false
func (s *store) transition(ctx context.Context, id string, now time.Time, log string, q string, args ...interface{}) (ok bool, err error) {
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(q), args...)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 1 {
			ok = true
			return s.addLogTx(ctx, tx, id, now, "%s", log)
		}

		var exists int
		err = tx.GetContext(ctx, &exists, tx.Rebind(`SELECT COUNT(*) FROM message WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("message %s, %w", id, ErrNotFound)
		}
		return nil
	})
	return ok, err
}

func (s *store) PurgeSent(ctx context.Context, before time.Time) (purged int64, err error) {
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			DELETE FROM message_log WHERE message_id IN (
			    SELECT id FROM message WHERE status = 'sent' AND sent_at < ?
			)`), before.UTC())
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM message WHERE status = 'sent' AND sent_at < ?`), before.UTC())
		if err != nil {
			return err
		}
		purged, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("could not purge sent messages, %w", err)
	}
	return purged, nil
}

func (s *store) addLogTx(ctx context.Context, tx *sqlx.Tx, messageId string, now time.Time, format string, args ...interface{}) error {
	q := `
	INSERT INTO message_log (message_id, created_at, log)
	VALUES (?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, tx.Rebind(q), messageId, now.UTC(), fmt.Sprintf(format, args...))
	if err != nil {
		return fmt.Errorf("failed to insert log entry, %w", err)
	}
	return nil
}

func (s *store) InsertCampaign(ctx context.Context, c *kuvert.Campaign) error {
	q := `
	INSERT INTO campaign (` + campaignColumns + `)
	VALUES (:id, :name, :subject, :body_text, :body_html, :audience, :status,
	        :scheduled_at, :started_at, :completed_at, :recipients, :queued, :failed, :created_at, :updated_at)
	`
	_, err := s.db.NamedExecContext(ctx, q, c)
	if err != nil {
		return fmt.Errorf("failed to insert into campaign table, %w", err)
	}
	return nil
}

func (s *store) GetCampaign(ctx context.Context, id string) (*kuvert.Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaign WHERE id = ?`
	var c kuvert.Campaign
	err := s.db.GetContext(ctx, &c, s.db.Rebind(q), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %s, %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("could not get campaign %s, %w", id, err)
	}
	return &c, nil
}

func (s *store) ListCampaigns(ctx context.Context, f CampaignFilter) ([]kuvert.Campaign, int, error) {
	cond := ""
	var args []interface{}
	if len(f.Status) > 0 {
		cond = "WHERE status = ?"
		args = append(args, f.Status)
	}

	var total int
	err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT COUNT(*) FROM campaign `+cond), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("could not count campaigns, %w", err)
	}

	q := `SELECT ` + campaignColumns + ` FROM campaign ` + cond + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	var campaigns []kuvert.Campaign
	err = s.db.SelectContext(ctx, &campaigns, s.db.Rebind(q), append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("could not list campaigns, %w", err)
	}
	return campaigns, total, nil
}

func (s *store) TransitionCampaign(ctx context.Context, id string, from []kuvert.CampaignStatus, to kuvert.CampaignStatus, now time.Time) (bool, error) {
	q, args, err := sqlx.In(`UPDATE campaign SET status = ?, updated_at = ? WHERE id = ? AND status IN (?)`, to, now.UTC(), id, from)
	if err != nil {
		return false, err
	}
	if to == kuvert.CampaignSending {
		q, args, err = sqlx.In(`UPDATE campaign SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status IN (?)`, to, now.UTC(), now.UTC(), id, from)
		if err != nil {
			return false, err
		}
	}
	return s.campaignUpdate(ctx, id, q, args...)
}

func (s *store) ScheduleCampaign(ctx context.Context, id string, at time.Time, now time.Time) (bool, error) {
	q := `UPDATE campaign SET status = 'scheduled', scheduled_at = ?, updated_at = ? WHERE id = ? AND status IN ('draft', 'scheduled')`
	return s.campaignUpdate(ctx, id, q, at.UTC(), now.UTC(), id)
}

func (s *store) campaignUpdate(ctx context.Context, id string, q string, args ...interface{}) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return false, fmt.Errorf("could not update campaign %s, %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 1 {
		return true, nil
	}
	_, err = s.GetCampaign(ctx, id)
	return false, err
}

func (s *store) FinishCampaign(ctx context.Context, c *kuvert.Campaign, now time.Time) error {
	q := `
		UPDATE campaign
		SET status = ?, recipients = ?, queued = ?, failed = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'sending'
	`
	res, err := s.db.ExecContext(ctx, s.db.Rebind(q), c.Status, c.Recipients, c.Queued, c.Failed, now.UTC(), now.UTC(), c.ID)
	if err != nil {
		return fmt.Errorf("could not finish campaign %s, %w", c.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("campaign %s was not sending", c.ID)
	}
	return nil
}

func (s *store) DueCampaigns(ctx context.Context, now time.Time) ([]kuvert.Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaign WHERE status = 'scheduled' AND scheduled_at <= ? ORDER BY scheduled_at`
	var campaigns []kuvert.Campaign
	err := s.db.SelectContext(ctx, &campaigns, s.db.Rebind(q), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("could not select due campaigns, %w", err)
	}
	return campaigns, nil
}

// StaleCampaigns returns campaigns that started sending before the given time and never finished
func (s *store) StaleCampaigns(ctx context.Context, before time.Time) ([]kuvert.Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaign WHERE status = 'sending' AND started_at < ? ORDER BY started_at`
	var campaigns []kuvert.Campaign
	err := s.db.SelectContext(ctx, &campaigns, s.db.Rebind(q), before.UTC())
	if err != nil {
		return nil, fmt.Errorf("could not select stale campaigns, %w", err)
	}
	return campaigns, nil
}

func (s *store) InsertRegistration(ctx context.Context, r *kuvert.Registration) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO registration (id, reference, type, name, email, plan_name, team_name, status, created_at)
			VALUES (:id, :reference, :type, :name, :email, :plan_name, :team_name, :status, :created_at)`, r)
		if err != nil {
			return fmt.Errorf("failed to insert registration, %w", err)
		}
		for _, m := range r.Members {
			m.RegistrationID = r.ID
			_, err = tx.NamedExecContext(ctx, `
				INSERT INTO team_member (registration_id, name, email, leader)
				VALUES (:registration_id, :name, :email, :leader)`, m)
			if err != nil {
				return fmt.Errorf("failed to insert team member, %w", err)
			}
		}
		return nil
	})
}

func (s *store) ListRegistrations(ctx context.Context, f RegistrationFilter) ([]kuvert.Registration, error) {
	var where []string
	var args []interface{}
	if len(f.Type) > 0 {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if len(f.ID) > 0 {
		where = append(where, "id = ?")
		args = append(args, f.ID)
	}
	if f.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC())
	}
	q := `SELECT id, reference, type, name, email, plan_name, team_name, status, created_at FROM registration`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at, id"

	var regs []kuvert.Registration
	err := s.db.SelectContext(ctx, &regs, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("could not list registrations, %w", err)
	}

	var teamIds []string
	for _, r := range regs {
		if r.Type == kuvert.RegistrationTeam {
			teamIds = append(teamIds, r.ID)
		}
	}
	if len(teamIds) == 0 {
		return regs, nil
	}

	mq, margs, err := sqlx.In(`SELECT registration_id, name, email, leader FROM team_member WHERE registration_id IN (?)`, teamIds)
	if err != nil {
		return nil, err
	}
	var members []kuvert.TeamMember
	err = s.db.SelectContext(ctx, &members, s.db.Rebind(mq), margs...)
	if err != nil {
		return nil, fmt.Errorf("could not list team members, %w", err)
	}
	byReg := map[string][]kuvert.TeamMember{}
	for _, m := range members {
		byReg[m.RegistrationID] = append(byReg[m.RegistrationID], m)
	}
	for i := range regs {
		regs[i].Members = byReg[regs[i].ID]
	}
	return regs, nil
}

func (s *store) GetRegistration(ctx context.Context, id string) (*kuvert.Registration, error) {
	regs, err := s.ListRegistrations(ctx, RegistrationFilter{ID: id})
	if err != nil {
		return nil, err
	}
	if len(regs) == 0 {
		return nil, fmt.Errorf("registration %s, %w", id, ErrNotFound)
	}
	return &regs[0], nil
}

// inTx commits if fn returns nil and rolls back otherwise
func (s *store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	var tx *sqlx.Tx
	tx, err = s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to get transaction, %w", err)
	}
	defer func() {
		if err == nil {
			err = tx.Commit()
			return
		}
		s.log.WithError(err).Debug("rolling back transaction")
		_ = tx.Rollback()
	}()
	return fn(tx)
}

func (s *store) tuneDatabase() error {
	if s.driver != "sqlite3" {
		return nil
	}
	q := `pragma journal_mode = WAL;
			pragma synchronous = normal;
			pragma temp_store = memory;
			pragma busy_timeout = 5000;
			pragma mmap_size = 30000000000;`

	if s.db == nil {
		return errors.New("db must be instantiated")
	}
	_, err := s.db.Exec(q)
	return err
}

func (s *store) connect() error {
	var err error
	s.log.WithField("driver", s.driver).Info("connecting to db")
	s.db, err = sqlx.Connect(s.driver, s.uri)
	if err != nil {
		return fmt.Errorf("error while connecting, %w", err)
	}
	if s.driver == "sqlite3" {
		// sqlite allows a single writer, serializing on one connection avoids busy errors
		s.db.SetMaxOpenConns(1)
	}
	err = s.tuneDatabase()
	if err != nil {
		_ = s.db.Close()
		return fmt.Errorf("error while tuning db instance, %w", err)
	}
	return nil
}

func (s *store) ensureSchema() error {
	schema := sqliteSchema
	if s.driver == "postgres" {
		schema = postgresSchema
	}
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("could upsert schema, %w", err)
	}
	return nil
}
