package pairing

import (
	"github.com/hitoshi/anonchat/internal/model"
)

// Snapshot は現在のリクエストとセッションのコピーを返す。
func (c *Coordinator) Snapshot() model.PairingSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := model.PairingSnapshot{
		Pending:  make([]model.PendingRequest, 0, len(c.pendingByOwner)),
		Sessions: make([]model.Session, 0, len(c.sessions)),
		SavedAt:  c.now(),
	}
	for _, req := range c.pendingByOwner {
		snap.Pending = append(snap.Pending, *req)
	}
	for _, s := range c.sessions {
		snap.Sessions = append(snap.Sessions, *s)
	}
	return snap
}

// Restore はスナップショットから状態を復元し、復元できなかったレコード数を返す。
// 既存の状態は破棄される。対になっていないセッションエントリや、
// 1ユーザーが複数の状態に属するレコードは読み捨てる。
func (c *Coordinator) Restore(snap model.PairingSnapshot) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	dropped := 0

	entries := make(map[string]model.Session, len(snap.Sessions))
	for _, s := range snap.Sessions {
		if s.MemberID == "" || s.MemberID == s.PartnerID {
			dropped++
			continue
		}
		if _, dup := entries[s.MemberID]; dup {
			dropped++
			continue
		}
		entries[s.MemberID] = s
	}
	for memberID, s := range entries {
		p, ok := entries[s.PartnerID]
		if !ok || p.PartnerID != memberID || p.ID != s.ID {
			dropped++
			continue
		}
		entry := s
		c.sessions[memberID] = &entry
	}

	for _, req := range snap.Pending {
		if req.RequesterID == "" || req.RequesterID == req.OwnerID || c.busyLocked(req.RequesterID) || c.busyLocked(req.OwnerID) {
			dropped++
			continue
		}
		r := req
		c.pendingByRequester[r.RequesterID] = &r
		c.pendingByOwner[r.OwnerID] = &r
	}

	return dropped
}

// busyLocked はuserIDが既にいずれかのレコードに属しているかを返す。
func (c *Coordinator) busyLocked(userID string) bool {
	if _, ok := c.sessions[userID]; ok {
		return true
	}
	if _, ok := c.pendingByRequester[userID]; ok {
		return true
	}
	_, ok := c.pendingByOwner[userID]
	return ok
}
