package memstore

import (
	"context"
	"fmt"
	"time"

	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"
)

// memTx runs with Store.mu held and keeps an undo log so a failed
// transaction leaves no partial writes behind.
type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) saveUser(id string) (*models.UserProfile, error) {
	u, ok := t.s.users[id]
	if !ok {
		return nil, notFound("user " + id)
	}
	before := copyUser(u)
	t.undo = append(t.undo, func() { t.s.users[id] = before })
	return u, nil
}

func (t *memTx) GetUser(ctx context.Context, id string) (*models.UserProfile, error) {
	u, ok := t.s.users[id]
	if !ok {
		return nil, notFound("user " + id)
	}
	return copyUser(u), nil
}

func (t *memTx) GetConnection(ctx context.Context, id string) (*models.PartnerConnection, error) {
	c, ok := t.s.connections[id]
	if !ok {
		return nil, notFound("connection " + id)
	}
	return copyConnection(c), nil
}

func (t *memTx) FindConnectionByCode(ctx context.Context, code string) (*models.PartnerConnection, error) {
	var best *models.PartnerConnection
	for _, c := range t.s.connections {
		if c.PartnerCode != code {
			continue
		}
		switch {
		case best == nil:
			best = c
		case c.Status == models.ConnectionPending && best.Status != models.ConnectionPending:
			best = c
		case c.Status == best.Status && c.CreatedAt.After(best.CreatedAt):
			best = c
		}
	}
	if best == nil {
		return nil, notFound("connection with code " + code)
	}
	return copyConnection(best), nil
}

func (t *memTx) InsertConnection(ctx context.Context, conn *models.PartnerConnection) error {
	if _, ok := t.s.connections[conn.ID]; ok {
		return fmt.Errorf("connection %s: %w", conn.ID, repository.ErrDuplicate)
	}
	if conn.Status == models.ConnectionPending {
		for _, c := range t.s.connections {
			if c.Status == models.ConnectionPending && c.PartnerCode == conn.PartnerCode {
				return fmt.Errorf("pending code %s: %w", conn.PartnerCode, repository.ErrDuplicate)
			}
		}
	}
	id := conn.ID
	t.s.connections[id] = copyConnection(conn)
	t.undo = append(t.undo, func() { delete(t.s.connections, id) })
	return nil
}

func (t *memTx) DeleteConnection(ctx context.Context, id string) error {
	c, ok := t.s.connections[id]
	if !ok {
		return notFound("connection " + id)
	}
	delete(t.s.connections, id)
	t.undo = append(t.undo, func() { t.s.connections[id] = c })
	return nil
}

func (t *memTx) DeletePendingByInviter(ctx context.Context, userID string) error {
	for id, c := range t.s.connections {
		if c.Partner1ID == userID && c.Status == models.ConnectionPending {
			if err := t.DeleteConnection(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *memTx) MarkConnected(ctx context.Context, id, partner2ID string, at time.Time) error {
	c, ok := t.s.connections[id]
	if !ok || c.Status != models.ConnectionPending {
		return notFound("pending connection " + id)
	}
	before := copyConnection(c)
	t.undo = append(t.undo, func() { t.s.connections[id] = before })

	p2 := partner2ID
	connectedAt := at
	c.Partner2ID = &p2
	c.Status = models.ConnectionConnected
	c.ConnectedAt = &connectedAt
	return nil
}

func (t *memTx) SetPartner(ctx context.Context, userID string, partnerID *string) error {
	u, err := t.saveUser(userID)
	if err != nil {
		return err
	}
	u.PartnerID = copyStr(partnerID)
	u.PartnerCode = nil
	u.UpdatedAt = time.Now()
	return nil
}

func (t *memTx) SetPartnerCode(ctx context.Context, userID string, code *string) error {
	u, err := t.saveUser(userID)
	if err != nil {
		return err
	}
	u.PartnerCode = copyStr(code)
	u.UpdatedAt = time.Now()
	return nil
}
