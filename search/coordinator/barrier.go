package coordinator

import (
	"context"
	"sync"

	"github.com/hatlonely/aggx/kv/store"
	"github.com/hatlonely/aggx/ref"
	"github.com/hatlonely/aggx/uid"
	"github.com/pkg/errors"
)

var (
	// ErrNotReady 还有分片没有响应
	ErrNotReady = errors.New("shard responses not ready")
	// ErrUnknownSession 会话不存在或已经关闭
	ErrUnknownSession = errors.New("unknown session")
	// ErrUnexpectedShard 分片不属于会话，或者已经响应过
	ErrUnexpectedShard = errors.New("unexpected shard response")
)

// Barrier 收集一次请求中所有分片的响应，全部到齐后才能合并
//
// 响应暂存在 Store 中，键为 "会话 id/分片 id"
type Barrier struct {
	store     store.Store[string, []byte]
	generator uid.Generator

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	shards  []string
	pending map[string]bool
	done    chan struct{}
	// closed 在 Close 时关闭，唤醒还在 Wait 的调用方
	closed chan struct{}
}

type BarrierOptions struct {
	// Store 暂存响应的存储，默认为进程内的 SyncMapStore
	Store *ref.TypeOptions `cfg:"store"`
	// SessionID 会话 id 生成器，默认为 v4 UUID
	SessionID *ref.TypeOptions `cfg:"sessionID"`
}

func NewBarrierWithOptions(options *BarrierOptions) (*Barrier, error) {
	if options == nil {
		options = &BarrierOptions{}
	}
	s, err := store.NewStoreWithOptions[string, []byte](options.Store)
	if err != nil {
		return nil, errors.WithMessage(err, "store.NewStoreWithOptions failed")
	}
	generator, err := uid.NewGeneratorWithOptions(options.SessionID)
	if err != nil {
		return nil, errors.WithMessage(err, "uid.NewGeneratorWithOptions failed")
	}
	return &Barrier{store: s, generator: generator, sessions: map[string]*session{}}, nil
}

func responseKey(sessionID, shardID string) string {
	return sessionID + "/" + shardID
}

// Open 为一组分片创建会话，返回会话 id
func (b *Barrier) Open(shards []string) (string, error) {
	if len(shards) == 0 {
		return "", errors.New("session needs at least one shard")
	}
	s := &session{
		shards:  append([]string(nil), shards...),
		pending: make(map[string]bool, len(shards)),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
	for _, shard := range shards {
		if s.pending[shard] {
			return "", errors.Errorf("duplicate shard [%s]", shard)
		}
		s.pending[shard] = true
	}

	id := b.generator.Generate()
	b.mu.Lock()
	if _, ok := b.sessions[id]; ok {
		b.mu.Unlock()
		return "", errors.Errorf("session id [%s] already in use", id)
	}
	b.sessions[id] = s
	b.mu.Unlock()
	return id, nil
}

// Arrive 记录一个分片的响应（MarshalEnvelope 的结果）
func (b *Barrier) Arrive(ctx context.Context, sessionID string, envelope []byte) error {
	resp, err := UnmarshalEnvelope(envelope)
	if err != nil {
		return errors.WithMessagef(err, "session [%s]", sessionID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[sessionID]
	if !ok {
		return errors.Wrapf(ErrUnknownSession, "session [%s]", sessionID)
	}
	if !s.pending[resp.ShardID] {
		return errors.Wrapf(ErrUnexpectedShard, "session [%s] shard [%s]", sessionID, resp.ShardID)
	}
	if err := b.store.Set(ctx, responseKey(sessionID, resp.ShardID), envelope, store.WithIfNotExist()); err != nil {
		return errors.WithMessagef(err, "session [%s] shard [%s]", sessionID, resp.ShardID)
	}
	delete(s.pending, resp.ShardID)
	if len(s.pending) == 0 {
		close(s.done)
	}
	return nil
}

// Wait 等待所有分片响应，按 Open 时的分片顺序返回，会话被关闭时返回 ErrUnknownSession
func (b *Barrier) Wait(ctx context.Context, sessionID string) ([]*ShardResponse, error) {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSession, "session [%s]", sessionID)
	}

	select {
	case <-s.done:
	case <-s.closed:
		return nil, errors.Wrapf(ErrUnknownSession, "session [%s] closed while waiting", sessionID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.Collect(ctx, sessionID)
}

// Collect 不等待，有分片未响应时返回 ErrNotReady
func (b *Barrier) Collect(ctx context.Context, sessionID string) ([]*ShardResponse, error) {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		return nil, errors.Wrapf(ErrUnknownSession, "session [%s]", sessionID)
	}
	if n := len(s.pending); n > 0 {
		b.mu.Unlock()
		return nil, errors.Wrapf(ErrNotReady, "session [%s]: %d of %d shards pending", sessionID, n, len(s.shards))
	}
	b.mu.Unlock()

	keys := make([]string, len(s.shards))
	for i, shard := range s.shards {
		keys[i] = responseKey(sessionID, shard)
	}
	vals, errs, err := b.store.BatchGet(ctx, keys)
	if err != nil {
		return nil, errors.WithMessagef(err, "session [%s]", sessionID)
	}

	responses := make([]*ShardResponse, len(keys))
	for i := range keys {
		if errs[i] != nil {
			return nil, errors.WithMessagef(errs[i], "session [%s] shard [%s]", sessionID, s.shards[i])
		}
		if responses[i], err = UnmarshalEnvelope(vals[i]); err != nil {
			return nil, errors.WithMessagef(err, "session [%s] shard [%s]", sessionID, s.shards[i])
		}
	}
	return responses, nil
}

// Close 删除会话和暂存的响应
func (b *Barrier) Close(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	delete(b.sessions, sessionID)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	close(s.closed)

	keys := make([]string, len(s.shards))
	for i, shard := range s.shards {
		keys[i] = responseKey(sessionID, shard)
	}
	_, err := b.store.BatchDel(ctx, keys)
	return err
}
