package lockout

import (
	"fmt"
	"time"

	"github.com/victorgomez09/sentinel/internal/auth/models"
	"github.com/victorgomez09/sentinel/internal/auth/store"
	"go.uber.org/zap"
)

// BlockPersister is the durable side of the block list.
type BlockPersister interface {
	PutBlock(rec models.BlockRecord) error
	DeleteBlock(kind models.BlockKind, subject string) (bool, error)
	ListBlocks(kind models.BlockKind) ([]models.BlockRecord, error)
}

// BlockList holds permanent IP and device blocks. Lookups are served from
// memory; every change is written through to the persister when one is set.
// Blocks are only ever removed by Unblock.
type BlockList struct {
	ips       *store.ShardedMap[models.BlockRecord]
	devices   *store.ShardedMap[models.BlockRecord]
	persister BlockPersister
	events    EventRecorder
	logger    *zap.Logger
	nowFn     func() time.Time
}

// NewBlockList creates a block list. persister may be nil.
func NewBlockList(persister BlockPersister, logger *zap.Logger) *BlockList {
	return &BlockList{
		ips:       store.NewShardedMap[models.BlockRecord](store.DefaultShards),
		devices:   store.NewShardedMap[models.BlockRecord](store.DefaultShards),
		persister: persister,
		logger:    logger,
		nowFn:     time.Now,
	}
}

// Restore loads persisted blocks into memory, returning how many were loaded.
func (b *BlockList) Restore() (int, error) {
	if b.persister == nil {
		return 0, nil
	}
	recs, err := b.persister.ListBlocks("")
	if err != nil {
		return 0, fmt.Errorf("restore blocks: %w", err)
	}
	for _, rec := range recs {
		b.set(rec.Kind).Set(rec.Subject, rec)
	}
	return len(recs), nil
}

func (b *BlockList) set(kind models.BlockKind) *store.ShardedMap[models.BlockRecord] {
	if kind == models.BlockDevice {
		return b.devices
	}
	return b.ips
}

// SetRecorder makes every new block emit an IP_BLOCKED or DEVICE_BLOCKED
// event. Call it before the list is shared.
func (b *BlockList) SetRecorder(events EventRecorder) {
	b.events = events
}

// BlockIP blocks ip and reports whether it was not blocked before.
func (b *BlockList) BlockIP(ip, reason string) bool {
	return b.block(models.BlockIP, ip, reason)
}

// BlockDevice blocks fingerprint and reports whether it was not blocked before.
func (b *BlockList) BlockDevice(fingerprint, reason string) bool {
	return b.block(models.BlockDevice, fingerprint, reason)
}

func (b *BlockList) block(kind models.BlockKind, subject, reason string) bool {
	if subject == "" {
		return false
	}

	var (
		rec   models.BlockRecord
		added bool
	)
	b.set(kind).Update(subject, func(cur models.BlockRecord, ok bool) (models.BlockRecord, bool) {
		if ok {
			rec = cur
			return cur, true
		}
		rec = models.BlockRecord{
			Kind:      kind,
			Subject:   subject,
			Reason:    reason,
			BlockedAt: b.nowFn().UTC(),
			Permanent: true,
		}
		added = true
		return rec, true
	})
	if !added {
		return false
	}

	b.logger.Warn("Blocked",
		zap.String("kind", string(kind)),
		zap.String("subject", subject),
		zap.String("reason", reason))

	if b.persister != nil {
		if err := b.persister.PutBlock(rec); err != nil {
			// memory still holds the block; it is lost only on restart
			b.logger.Error("Failed to persist block",
				zap.String("kind", string(kind)),
				zap.String("subject", subject),
				zap.Error(err))
		}
	}

	if b.events != nil {
		typ, ip := models.EventIPBlocked, subject
		details := map[string]any{"reason": reason, "permanent": true}
		if kind == models.BlockDevice {
			typ, ip = models.EventDeviceBlocked, ""
			details["device_fingerprint"] = subject
		}
		b.events.Record(typ, ip, "", details)
	}
	return true
}

func (b *BlockList) IsIPBlocked(ip string) bool {
	_, ok := b.ips.Get(ip)
	return ok
}

func (b *BlockList) IsDeviceBlocked(fingerprint string) bool {
	if fingerprint == "" {
		return false
	}
	_, ok := b.devices.Get(fingerprint)
	return ok
}

// Unblock removes a block and reports whether one existed.
func (b *BlockList) Unblock(kind models.BlockKind, subject string) (bool, error) {
	removed := b.set(kind).Delete(subject)
	if b.persister != nil {
		persisted, err := b.persister.DeleteBlock(kind, subject)
		if err != nil {
			return removed, fmt.Errorf("unblock %s %s: %w", kind, subject, err)
		}
		removed = removed || persisted
	}
	return removed, nil
}

// List returns the blocks of kind, or all blocks when kind is empty.
func (b *BlockList) List(kind models.BlockKind) []models.BlockRecord {
	var out []models.BlockRecord
	collect := func(_ string, rec models.BlockRecord) bool {
		out = append(out, rec)
		return true
	}
	if kind == "" || kind == models.BlockIP {
		b.ips.Range(collect)
	}
	if kind == "" || kind == models.BlockDevice {
		b.devices.Range(collect)
	}
	return out
}

// Counts returns the number of blocked IPs and devices.
func (b *BlockList) Counts() (ips, devices int) {
	return b.ips.Len(), b.devices.Len()
}
