/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

// Package scrubmgr implements the Scrub Manager: a per-node replicated state machine that applies
// scrub replies first to their parent volume, then propagates the result to the parent's clone
// sub-tree, and finally hands reclaimed storage to a backend garbage collector. All persistent
// state lives in the Key-Value Coordinator so any node may crash between steps without losing
// work, and concurrent managers on other nodes converge on the same outcome.
package scrubmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/openshift-kni/vdisk-registry/internal/ids"
	"github.com/openshift-kni/vdisk-registry/internal/kvcoord"
	"github.com/openshift-kni/vdisk-registry/internal/objecttree"
	"github.com/openshift-kni/vdisk-registry/internal/scrubtree"
	"github.com/openshift-kni/vdisk-registry/internal/typederrors"
)

// Cleanup selects the cleanup discipline passed through to ApplyFunc. The Scrub Manager does not
// interpret it; it is forwarded verbatim so the injected callback can decide how aggressively to
// release storage if the application itself fails.
type Cleanup int

const (
	// CleanupOnError is used when applying to a parent: a failed application may still need to
	// release what it managed to reclaim before failing.
	CleanupOnError Cleanup = iota
	// CleanupNever is used when applying to a clone: a failed application must leave the clone
	// untouched so the next pass can retry it from scratch.
	CleanupNever
)

// ApplyFunc applies reply to id. A (nil, false, nil) result means id is not owned by this node (or
// no longer exists); applied=true means the reply was durably applied, with garbage populated only
// when called against a parent. A non-nil error means the attempt failed outright.
type ApplyFunc func(ctx context.Context, id ids.ObjectId, reply ScrubReply, cleanup Cleanup) (garbage []byte, applied bool, err error)

// BuildTreeFunc computes the sub-tree of clones a reply taken against snapshot of parent must also
// be applied to. A Manager typically implements this with scrubtree.Build over its own Object
// Registry and a snapshot lister supplied by the enclosing volume driver.
type BuildTreeFunc func(ctx context.Context, parent ids.ObjectId, snapshot ids.SnapshotName) ([]scrubtree.Clone, error)

// CollectGarbageFunc hands a finalized Garbage blob to the backend garbage collector.
type CollectGarbageFunc func(ctx context.Context, garbage []byte) error

// OwnerLookup is the narrow slice of the Cached Object Registry the Scrub Manager needs: enough to
// decide whether this node currently owns a given object before attempting to apply to it.
type OwnerLookup interface {
	Find(ctx context.Context, id ids.ObjectId, ignoreCache bool) (objecttree.ObjectRegistration, error)
}

// Counters is a snapshot of the Scrub Manager's observability counters.
type Counters struct {
	ParentScrubsOk  int64
	ParentScrubsNok int64
	CloneScrubsOk   int64
	CloneScrubsNok  int64
}

// Manager is a per-node Scrub Manager for one cluster.
type Manager struct {
	kv        kvcoord.Coordinator
	clusterId ids.ClusterId
	nodeId    ids.NodeId
	lookup    OwnerLookup

	apply          ApplyFunc
	buildTree      BuildTreeFunc
	collectGarbage CollectGarbageFunc

	period time.Duration
	logger *slog.Logger

	parentOk  atomic.Int64
	parentNok atomic.Int64
	cloneOk   atomic.Int64
	cloneNok  atomic.Int64
}

// New creates a Scrub Manager for one node of one cluster. period governs Run's loop interval.
func New(kv kvcoord.Coordinator, clusterId ids.ClusterId, nodeId ids.NodeId, lookup OwnerLookup, apply ApplyFunc, buildTree BuildTreeFunc, collectGarbage CollectGarbageFunc, period time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		kv:             kv,
		clusterId:      clusterId,
		nodeId:         nodeId,
		lookup:         lookup,
		apply:          apply,
		buildTree:      buildTree,
		collectGarbage: collectGarbage,
		period:         period,
		logger:         logger,
	}
}

// Counters returns a snapshot of this Manager's observability counters.
func (m *Manager) Counters() Counters {
	return Counters{
		ParentScrubsOk:  m.parentOk.Load(),
		ParentScrubsNok: m.parentNok.Load(),
		CloneScrubsOk:   m.cloneOk.Load(),
		CloneScrubsNok:  m.cloneNok.Load(),
	}
}

func (m *Manager) prefix() string {
	return fmt.Sprintf("%s/scrub", m.clusterId)
}

func (m *Manager) parentQueueKey(replyKey string) string {
	return fmt.Sprintf("%s/parent-queue/%s", m.prefix(), replyKey)
}

func (m *Manager) cloneIndexKey(replyKey string) string {
	return fmt.Sprintf("%s/clone-index/%s", m.prefix(), replyKey)
}

func (m *Manager) treeKey(id uuid.UUID) string {
	return fmt.Sprintf("%s/tree/%s", m.prefix(), id)
}

func (m *Manager) garbageKey(id uuid.UUID) string {
	return fmt.Sprintf("%s/garbage/%s", m.prefix(), id)
}

func (m *Manager) nodeGarbageKey(node ids.NodeId, id uuid.UUID) string {
	return fmt.Sprintf("%s/node-garbage/%s/%s", m.prefix(), node, id)
}

func (m *Manager) nodeGarbagePrefix(node ids.NodeId) string {
	return fmt.Sprintf("%s/node-garbage/%s/", m.prefix(), node)
}

// QueueScrubReply records that reply must eventually be applied to parent. Queueing the identical
// (parent, reply) pair again is a silent no-op. Queueing reply against a different parent, or
// against a reply that already progressed into the clone phase, raises a ScrubError. The reply's
// Namespace must equal parent's object id: this mirrors a layering leak documented in the source
// and is enforced here as an invariant.
func (m *Manager) QueueScrubReply(ctx context.Context, parent ids.ObjectId, reply ScrubReply) error {
	if string(reply.Namespace) != string(parent) {
		return typederrors.NewScrubError(nil, "reply namespace %q does not match parent object id %q", reply.Namespace, parent)
	}

	replyKey, err := reply.key()
	if err != nil {
		return err
	}

	if _, err := m.kv.Get(ctx, m.cloneIndexKey(replyKey)); err == nil {
		return typederrors.NewScrubError(nil, "reply is already in the clone phase")
	} else if !typederrors.IsNotFoundError(err) {
		return err
	}

	existing, err := m.kv.Get(ctx, m.parentQueueKey(replyKey))
	if err == nil {
		if ids.ObjectId(existing) == parent {
			return nil
		}
		return typederrors.NewScrubError(nil, "reply is already queued against a different parent")
	} else if !typederrors.IsNotFoundError(err) {
		return err
	}

	key := m.parentQueueKey(replyKey)
	return m.kv.RunSequence(ctx, fmt.Sprintf("queue scrub reply for %s", parent), true, func(seq *kvcoord.Sequence) error {
		seq.Assert(key, nil)
		seq.Set(key, []byte(parent))
		return nil
	})
}

// RunOnce performs one pass of the periodic worker: the parent queue, then the clone index, then
// garbage collection. Each step is an independent KVC sequence, and no single entry's failure
// stops progress on the others. The clone index is listed before the parent pass runs, so a reply
// promoted during this pass is first walked on the next one; its parent and clone applications
// never collapse into a single pass.
func (m *Manager) RunOnce(ctx context.Context) error {
	cloneEntries, err := m.kv.Prefix(ctx, m.prefix()+"/clone-index/", 0)
	if err != nil {
		return fmt.Errorf("listing clone index: %w", err)
	}
	if err := m.processParentQueue(ctx); err != nil {
		return fmt.Errorf("processing parent queue: %w", err)
	}
	if err := m.processCloneIndex(ctx, cloneEntries); err != nil {
		return fmt.Errorf("processing clone index: %w", err)
	}
	if err := m.collectFinalizedGarbage(ctx); err != nil {
		return fmt.Errorf("collecting garbage: %w", err)
	}
	return nil
}

// Run invokes RunOnce repeatedly, sleeping period between passes, until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		if err := m.RunOnce(ctx); err != nil {
			m.logger.Error("scrub manager pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) processParentQueue(ctx context.Context) error {
	entries, err := m.kv.Prefix(ctx, m.prefix()+"/parent-queue/", 0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		replyKey := e.Key[len(m.prefix()+"/parent-queue/"):]
		reply, err := decodeReplyKey(replyKey)
		if err != nil {
			m.logger.Error("dropping undecodable parent queue entry", "key", e.Key, "error", err)
			continue
		}
		parent := ids.ObjectId(e.Value)
		m.processOneParentEntry(ctx, replyKey, reply, parent)
	}
	return nil
}

func (m *Manager) processOneParentEntry(ctx context.Context, replyKey string, reply ScrubReply, parent ids.ObjectId) {
	reg, lookupErr := m.lookup.Find(ctx, parent, true)
	if lookupErr == nil && reg.NodeId != m.nodeId {
		// A different node owns the parent; leave the entry for it to attempt.
		return
	}

	garbage, applied, err := m.apply(ctx, parent, reply, CleanupOnError)
	if err != nil {
		m.parentNok.Add(1)
		if dropErr := m.dropParentQueueEntry(ctx, replyKey, parent); dropErr != nil {
			m.logger.Error("dropping failed parent queue entry", "parent", parent, "error", dropErr)
		}
		return
	}
	if !applied {
		if typederrors.IsNotRegisteredError(lookupErr) {
			if dropErr := m.dropParentQueueEntry(ctx, replyKey, parent); dropErr != nil {
				m.logger.Error("dropping orphaned parent queue entry", "parent", parent, "error", dropErr)
			}
		}
		// else: registered but not owned here (or ownership check itself failed transiently);
		// leave the entry for the owning node's next attempt.
		return
	}

	m.parentOk.Add(1)
	if err := m.promoteToCloneIndex(ctx, replyKey, reply, parent, garbage); err != nil {
		m.logger.Error("promoting scrub reply to clone index", "parent", parent, "error", err)
	}
}

func (m *Manager) dropParentQueueEntry(ctx context.Context, replyKey string, parent ids.ObjectId) error {
	key := m.parentQueueKey(replyKey)
	return m.kv.RunSequence(ctx, fmt.Sprintf("drop parent queue entry for %s", parent), true, func(seq *kvcoord.Sequence) error {
		current, err := m.kv.Get(ctx, key)
		if err != nil {
			if typederrors.IsNotFoundError(err) {
				return nil
			}
			return err
		}
		seq.Assert(key, current)
		seq.Delete(key)
		return nil
	})
}

func (m *Manager) promoteToCloneIndex(ctx context.Context, replyKey string, reply ScrubReply, parent ids.ObjectId, garbage []byte) error {
	tree, err := m.buildTree(ctx, parent, reply.Snapshot)
	if err != nil {
		return fmt.Errorf("building scrub tree for %s: %w", parent, err)
	}
	treeData, err := msgpack.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encoding scrub tree for %s: %w", parent, err)
	}

	id := uuid.New()
	parentKey := m.parentQueueKey(replyKey)
	cloneKey := m.cloneIndexKey(replyKey)

	return m.kv.RunSequence(ctx, fmt.Sprintf("promote scrub reply for %s to clone phase", parent), true, func(seq *kvcoord.Sequence) error {
		parentBuf, err := m.kv.Get(ctx, parentKey)
		if err != nil {
			if typederrors.IsNotFoundError(err) {
				// Another node already promoted this entry; nothing more to do.
				return nil
			}
			return err
		}
		seq.Assert(parentKey, parentBuf)
		seq.Delete(parentKey)
		seq.Assert(cloneKey, nil)
		seq.Set(m.garbageKey(id), garbage)
		seq.Set(cloneKey, []byte(id.String()))
		seq.Set(m.treeKey(id), treeData)
		return nil
	})
}

func (m *Manager) processCloneIndex(ctx context.Context, entries []kvcoord.Entry) error {
	for _, e := range entries {
		id, err := uuid.Parse(string(e.Value))
		if err != nil {
			m.logger.Error("dropping clone index entry with malformed uuid", "key", e.Key, "error", err)
			continue
		}
		replyKey := e.Key[len(m.prefix()+"/clone-index/"):]
		reply, err := decodeReplyKey(replyKey)
		if err != nil {
			m.logger.Error("dropping clone index entry with undecodable reply", "key", e.Key, "error", err)
			continue
		}
		m.processOneCloneTree(ctx, e.Key, id, reply)
	}
	return nil
}

func (m *Manager) processOneCloneTree(ctx context.Context, cloneIndexKey string, id uuid.UUID, reply ScrubReply) {
	treeData, err := m.kv.Get(ctx, m.treeKey(id))
	if err != nil {
		if !typederrors.IsNotFoundError(err) {
			m.logger.Error("reading scrub tree", "uuid", id, "error", err)
		}
		return
	}
	var tree []scrubtree.Clone
	if err := msgpack.Unmarshal(treeData, &tree); err != nil {
		m.logger.Error("decoding scrub tree", "uuid", id, "error", err)
		return
	}

	nextTree, err := m.advanceTree(ctx, tree, reply)
	if err != nil {
		m.logger.Error("advancing scrub tree", "uuid", id, "error", err)
		return
	}

	if len(nextTree) == 0 {
		m.finalizeUUID(ctx, cloneIndexKey, id)
		return
	}

	nextData, err := msgpack.Marshal(nextTree)
	if err != nil {
		m.logger.Error("encoding scrub tree", "uuid", id, "error", err)
		return
	}
	if err := m.kv.RunSequence(ctx, fmt.Sprintf("advance scrub tree %s", id), true, func(seq *kvcoord.Sequence) error {
		seq.Assert(m.treeKey(id), treeData)
		seq.Set(m.treeKey(id), nextData)
		return nil
	}); err != nil {
		m.logger.Error("persisting advanced scrub tree", "uuid", id, "error", err)
	}
}

// cloneFanOutLimit bounds how many root clones of one tree are applied concurrently.
const cloneFanOutLimit = 8

// advanceTree attempts one application step against every root clone currently owned by this
// node, fanned out across goroutines bounded by cloneFanOutLimit, returning the replacement tree:
// retried clones and failed-but-owned-elsewhere clones stay at the top level, successfully applied
// clones are replaced by their children, and clones the driver reports gone are dropped without
// promoting their children. A single clone's apply failure never holds up its siblings.
func (m *Manager) advanceTree(ctx context.Context, tree []scrubtree.Clone, reply ScrubReply) ([]scrubtree.Clone, error) {
	var (
		mu   sync.Mutex
		next []scrubtree.Clone
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cloneFanOutLimit)

	for _, clone := range tree {
		clone := clone
		g.Go(func() error {
			reg, lookupErr := m.lookup.Find(gctx, clone.Id, true)
			if lookupErr == nil && reg.NodeId != m.nodeId {
				mu.Lock()
				next = append(next, clone)
				mu.Unlock()
				return nil
			}

			_, applied, err := m.apply(gctx, clone.Id, reply, CleanupNever)
			if err != nil {
				m.cloneNok.Add(1)
				mu.Lock()
				next = append(next, clone)
				mu.Unlock()
				return nil
			}
			m.cloneOk.Add(1)
			if applied {
				mu.Lock()
				next = append(next, clone.Children...)
				mu.Unlock()
			}
			// else: gone. Drop the clone and its whole subtree without promoting children.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return next, nil
}

func (m *Manager) finalizeUUID(ctx context.Context, cloneIndexKey string, id uuid.UUID) {
	err := m.kv.RunSequence(ctx, fmt.Sprintf("finalize scrub uuid %s", id), true, func(seq *kvcoord.Sequence) error {
		cloneBuf, err := m.kv.Get(ctx, cloneIndexKey)
		if err != nil {
			if typederrors.IsNotFoundError(err) {
				return nil
			}
			return err
		}
		seq.Assert(cloneIndexKey, cloneBuf)
		seq.Delete(cloneIndexKey)
		seq.Delete(m.treeKey(id))
		seq.Set(m.nodeGarbageKey(m.nodeId, id), []byte{1})
		return nil
	})
	if err != nil {
		m.logger.Error("finalizing scrub uuid", "uuid", id, "error", err)
	}
}

func (m *Manager) collectFinalizedGarbage(ctx context.Context) error {
	prefix := m.nodeGarbagePrefix(m.nodeId)
	entries, err := m.kv.Prefix(ctx, prefix, 0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		idStr := e.Key[len(prefix):]
		id, err := uuid.Parse(idStr)
		if err != nil {
			m.logger.Error("dropping node garbage entry with malformed uuid", "key", e.Key, "error", err)
			continue
		}
		m.collectOneGarbage(ctx, e.Key, id)
	}
	return nil
}

func (m *Manager) collectOneGarbage(ctx context.Context, nodeGarbageKey string, id uuid.UUID) {
	garbage, err := m.kv.Get(ctx, m.garbageKey(id))
	if err != nil {
		if typederrors.IsNotFoundError(err) {
			// Nothing to collect (an earlier pass deleted the blob but failed to clear this
			// entry); just clear.
			if delErr := m.kv.DeletePrefix(ctx, nodeGarbageKey); delErr != nil {
				m.logger.Error("clearing empty garbage entry", "uuid", id, "error", delErr)
			}
			return
		}
		m.logger.Error("reading garbage blob", "uuid", id, "error", err)
		return
	}
	if err := m.collectGarbage(ctx, garbage); err != nil {
		m.logger.Error("collecting garbage failed, will retry next pass", "uuid", id, "error", err)
		return
	}
	if err := m.kv.DeletePrefix(ctx, m.garbageKey(id)); err != nil {
		m.logger.Error("deleting collected garbage blob", "uuid", id, "error", err)
	}
	if err := m.kv.DeletePrefix(ctx, nodeGarbageKey); err != nil {
		m.logger.Error("clearing node garbage entry", "uuid", id, "error", err)
	}
}
