// Package pairing はチャットリクエストとセッションの状態遷移を管理する。
// 全ての状態はCoordinatorが単一のミューテックスの下で排他的に所有し、
// ロック保持中にI/Oを行わない。
package pairing

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/anonchat/internal/model"
)

// Config はCoordinatorの設定を保持する。
type Config struct {
	// RetryCooldown は拒否・期限切れ後に同じ相手へ再リクエストできるまでの時間。
	// 0の場合は即時再リクエストを許可する。
	RetryCooldown time.Duration
	// Now は現在時刻を返す関数。nilの場合はtime.Nowを使用する。
	Now func() time.Time
}

// Stats はCoordinatorが保持しているレコード数。
type Stats struct {
	PendingRequests int
	Sessions        int // 成立しているチャット数（片側エントリ数の半分）
}

type cooldownKey struct {
	requesterID string
	ownerID     string
}

// Coordinator はPendingRequestとSessionを所有するペアリング状態機械。
// 各ユーザーは「なし」「リクエスト送信中」「リクエスト受信中」「チャット中」の
// いずれか1つの状態にのみ属する。
type Coordinator struct {
	mu sync.Mutex

	pendingByRequester map[string]*model.PendingRequest
	pendingByOwner     map[string]*model.PendingRequest
	sessions           map[string]*model.Session
	cooldowns          map[cooldownKey]time.Time

	retryCooldown time.Duration
	now           func() time.Time
	newID         func() string
}

// NewCoordinator は空の状態のCoordinatorを生成する。
func NewCoordinator(cfg Config) *Coordinator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	c := &Coordinator{
		retryCooldown: cfg.RetryCooldown,
		now:           now,
		newID:         uuid.NewString,
	}
	c.resetLocked()
	return c
}

// Reset は全てのリクエストとセッションを破棄する。
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Coordinator) resetLocked() {
	c.pendingByRequester = make(map[string]*model.PendingRequest)
	c.pendingByOwner = make(map[string]*model.PendingRequest)
	c.sessions = make(map[string]*model.Session)
	c.cooldowns = make(map[cooldownKey]time.Time)
}

// Request はrequesterIDからownerIDへのチャットリクエストを作成する。
// 判定順序: 自分自身 → チャット中 → 送信者の既存リクエスト → 相手の既存リクエスト。
// 相手が別のリクエストを抱えている場合は上書きせずOwnerBusyで拒否する。
func (c *Coordinator) Request(requesterID, ownerID string) (model.PendingRequest, error) {
	if requesterID == ownerID {
		return model.PendingRequest{}, model.NewSelfPairingError()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sessions[requesterID]; ok {
		return model.PendingRequest{}, model.NewAlreadyInSessionError()
	}
	if _, ok := c.sessions[ownerID]; ok {
		return model.PendingRequest{}, model.NewAlreadyInSessionError()
	}

	// 送信者は送信中・受信中のどちらのリクエストも抱えていてはならない
	if _, ok := c.pendingByRequester[requesterID]; ok {
		return model.PendingRequest{}, model.NewDuplicateRequestError()
	}
	if _, ok := c.pendingByOwner[requesterID]; ok {
		return model.PendingRequest{}, model.NewDuplicateRequestError()
	}

	now := c.now()
	key := cooldownKey{requesterID: requesterID, ownerID: ownerID}
	if until, ok := c.cooldowns[key]; ok {
		if now.Before(until) {
			return model.PendingRequest{}, model.NewDuplicateRequestError()
		}
		delete(c.cooldowns, key)
	}

	if _, ok := c.pendingByOwner[ownerID]; ok {
		return model.PendingRequest{}, model.NewOwnerBusyError()
	}
	if _, ok := c.pendingByRequester[ownerID]; ok {
		return model.PendingRequest{}, model.NewOwnerBusyError()
	}

	req := &model.PendingRequest{
		ID:          c.newID(),
		RequesterID: requesterID,
		OwnerID:     ownerID,
		CreatedAt:   now,
	}
	c.pendingByRequester[requesterID] = req
	c.pendingByOwner[ownerID] = req

	return *req, nil
}

// Accept はownerID宛てのリクエストを承認し、双方向のセッションを作成する。
// 戻り値はリクエスト送信者のID。
func (c *Coordinator) Accept(ownerID string) (string, error) {
	return c.accept(ownerID, "")
}

// AcceptRequest はownerID宛ての保留中リクエストのIDがrequestIDと一致する場合のみ承認する。
// 期限切れなどで別のリクエストに置き換わっている場合はErrCodeNoPendingRequestを返す。
func (c *Coordinator) AcceptRequest(ownerID, requestID string) (string, error) {
	if requestID == "" {
		return "", model.NewNoPendingRequestError()
	}
	return c.accept(ownerID, requestID)
}

// accept はrequestIDが空でなければ一致を確認してから承認する。
func (c *Coordinator) accept(ownerID, requestID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.pendingByOwner[ownerID]
	if !ok || (requestID != "" && req.ID != requestID) {
		return "", model.NewNoPendingRequestError()
	}
	c.removePendingLocked(req)

	now := c.now()
	id := c.newID()
	c.sessions[req.RequesterID] = &model.Session{
		ID:            id,
		MemberID:      req.RequesterID,
		PartnerID:     ownerID,
		EstablishedAt: now,
		LastActivity:  now,
	}
	c.sessions[ownerID] = &model.Session{
		ID:            id,
		MemberID:      ownerID,
		PartnerID:     req.RequesterID,
		EstablishedAt: now,
		LastActivity:  now,
	}

	return req.RequesterID, nil
}

// Reject はownerID宛てのリクエストを破棄し、送信者のIDを返す。
func (c *Coordinator) Reject(ownerID string) (string, error) {
	return c.reject(ownerID, "")
}

// RejectRequest はIDがrequestIDと一致する保留中リクエストのみ拒否する。
func (c *Coordinator) RejectRequest(ownerID, requestID string) (string, error) {
	if requestID == "" {
		return "", model.NewNoPendingRequestError()
	}
	return c.reject(ownerID, requestID)
}

func (c *Coordinator) reject(ownerID, requestID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.pendingByOwner[ownerID]
	if !ok || (requestID != "" && req.ID != requestID) {
		return "", model.NewNoPendingRequestError()
	}
	c.removePendingLocked(req)
	c.startCooldownLocked(req)

	return req.RequesterID, nil
}

// Disconnect はuserIDのセッションを両側とも削除し、相手のIDを返す。
func (c *Coordinator) Disconnect(userID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[userID]
	if !ok {
		return "", model.NewNotInSessionError()
	}
	delete(c.sessions, userID)
	delete(c.sessions, s.PartnerID)

	return s.PartnerID, nil
}

// Touch はuserIDと相手のセッションの最終アクティビティ時刻を更新する。
// チャット中でない場合は何もしない。
func (c *Coordinator) Touch(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[userID]
	if !ok {
		return
	}
	now := c.now()
	s.LastActivity = now
	if p, ok := c.sessions[s.PartnerID]; ok {
		p.LastActivity = now
	}
}

// PartnerOf はuserIDのチャット相手を返す。
func (c *Coordinator) PartnerOf(userID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[userID]
	if !ok {
		return "", false
	}
	return s.PartnerID, true
}

// SessionOf はuserIDのセッションエントリのコピーを返す。
func (c *Coordinator) SessionOf(userID string) (model.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[userID]
	if !ok {
		return model.Session{}, false
	}
	return *s, true
}

// PendingFor はownerID宛てのリクエストを返す。
func (c *Coordinator) PendingFor(ownerID string) (model.PendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.pendingByOwner[ownerID]
	if !ok {
		return model.PendingRequest{}, false
	}
	return *req, true
}

// StateOf はuserIDの現在のペアリング状態を返す。
func (c *Coordinator) StateOf(userID string) model.UserState {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.sessions[userID] != nil:
		return model.UserStatePaired
	case c.pendingByRequester[userID] != nil:
		return model.UserStatePendingRequester
	case c.pendingByOwner[userID] != nil:
		return model.UserStatePendingOwner
	default:
		return model.UserStateIdle
	}
}

// ExpirePending はcutoffより前に作成されたリクエストを削除して返す。
// 判定と削除は同一ロック内で行うため、同時に承認されたリクエストは対象にならない。
func (c *Coordinator) ExpirePending(cutoff time.Time) []model.PendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []model.PendingRequest
	for _, req := range c.pendingByRequester {
		if req.CreatedAt.Before(cutoff) {
			expired = append(expired, *req)
		}
	}
	for i := range expired {
		req := c.pendingByRequester[expired[i].RequesterID]
		c.removePendingLocked(req)
		c.startCooldownLocked(req)
	}

	now := c.now()
	for key, until := range c.cooldowns {
		if !now.Before(until) {
			delete(c.cooldowns, key)
		}
	}

	return expired
}

// ExpireIdle は最終アクティビティがcutoffより前のセッションを両側とも削除する。
// 戻り値はチャット1件につき1エントリ。
func (c *Coordinator) ExpireIdle(cutoff time.Time) []model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []model.Session
	seen := make(map[string]bool)
	for _, s := range c.sessions {
		if seen[s.ID] {
			continue
		}
		last := s.LastActivity
		if p, ok := c.sessions[s.PartnerID]; ok && p.LastActivity.After(last) {
			last = p.LastActivity
		}
		if !last.Before(cutoff) {
			continue
		}
		seen[s.ID] = true
		expired = append(expired, *s)
	}
	for _, s := range expired {
		delete(c.sessions, s.MemberID)
		delete(c.sessions, s.PartnerID)
	}

	return expired
}

// Stats は保持しているレコード数を返す。
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		PendingRequests: len(c.pendingByOwner),
		Sessions:        len(c.sessions) / 2,
	}
}

func (c *Coordinator) removePendingLocked(req *model.PendingRequest) {
	delete(c.pendingByRequester, req.RequesterID)
	delete(c.pendingByOwner, req.OwnerID)
}

func (c *Coordinator) startCooldownLocked(req *model.PendingRequest) {
	if c.retryCooldown <= 0 {
		return
	}
	key := cooldownKey{requesterID: req.RequesterID, ownerID: req.OwnerID}
	c.cooldowns[key] = c.now().Add(c.retryCooldown)
}
