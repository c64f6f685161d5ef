// Package telemetry is a Firestore-backed reference implementation of
// an audit sink for finalized blocks and slashing events — one of the
// external-collaborator adapters kept optional and swappable, never a
// hard dependency of core. Nothing in core imports this package;
// cmd/validatornode is its only caller.
package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/foldchain/zkconsensus/pkg/chainlog"
)

// ClientConfig configures the Firestore client.
type ClientConfig struct {
	ProjectID       string
	CredentialsFile string
	Enabled         bool
	Log             *chainlog.Logger
}

// Client wraps the Firestore client. When Enabled is false every
// operation is a silent no-op, so callers don't need to branch on
// whether telemetry is configured.
type Client struct {
	app       *firebase.App
	firestore *gcpfirestore.Client
	enabled   bool
	log       *chainlog.Logger
	mu        sync.RWMutex
}

// NewClient constructs a Client. If cfg.Enabled is false, it returns
// a no-op Client without contacting Firebase.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	log := cfg.Log
	if log == nil {
		log = chainlog.Noop()
	}
	log = log.With("component", "telemetry")

	if !cfg.Enabled {
		log.Infow("telemetry disabled, running in no-op mode")
		return &Client{enabled: false, log: log}, nil
	}

	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("telemetry: project ID is required when enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to initialize firebase app: %w", err)
	}
	fsClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to initialize firestore client: %w", err)
	}

	return &Client{app: app, firestore: fsClient, enabled: true, log: log}, nil
}

// IsEnabled reports whether this client performs real writes.
func (c *Client) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// Close releases the underlying Firestore connection.
func (c *Client) Close() error {
	if c.firestore == nil {
		return nil
	}
	return c.firestore.Close()
}

// entry is a single hash-chained audit record.
type entry struct {
	EntryID      string                 `firestore:"entryId"`
	Kind         string                 `firestore:"kind"`
	Height       uint64                 `firestore:"height"`
	Details      map[string]interface{} `firestore:"details"`
	Timestamp    time.Time              `firestore:"timestamp"`
	PreviousHash string                 `firestore:"previousHash"`
	EntryHash    string                 `firestore:"entryHash"`
}

func (c *Client) appendEntry(ctx context.Context, kind string, height uint64, details map[string]interface{}) error {
	if !c.IsEnabled() {
		c.log.Debugw("telemetry disabled, skipping entry", "kind", kind, "height", height)
		return nil
	}

	previousHash, err := c.latestHash(ctx)
	if err != nil {
		c.log.Warnw("failed to read previous audit hash, chaining from empty", "error", err)
	}

	e := &entry{
		EntryID:      fmt.Sprintf("%s-%d-%d", kind, height, time.Now().UnixNano()),
		Kind:         kind,
		Height:       height,
		Details:      details,
		Timestamp:    time.Now(),
		PreviousHash: previousHash,
	}
	e.EntryHash = computeEntryHash(e)

	_, _, err = c.firestore.Collection("audit_trail").Add(ctx, e)
	if err != nil {
		return fmt.Errorf("telemetry: failed to append audit entry: %w", err)
	}
	return nil
}

func (c *Client) latestHash(ctx context.Context) (string, error) {
	docs, err := c.firestore.Collection("audit_trail").
		OrderBy("timestamp", gcpfirestore.Desc).
		Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", nil
	}
	var e entry
	if err := docs[0].DataTo(&e); err != nil {
		return "", err
	}
	return e.EntryHash, nil
}

func computeEntryHash(e *entry) string {
	payload, _ := json.Marshal(struct {
		EntryID      string
		Kind         string
		Height       uint64
		PreviousHash string
	}{e.EntryID, e.Kind, e.Height, e.PreviousHash})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// RecordBlockFinalized records a block reaching the Finalized stage.
func (c *Client) RecordBlockFinalized(ctx context.Context, height uint64, stateRoot string, txCount int) error {
	return c.appendEntry(ctx, "block_finalized", height, map[string]interface{}{
		"stateRoot": stateRoot,
		"txCount":   txCount,
	})
}

// RecordBlockDegraded records a block finalized with a pending-receipt
// marker instead of a completed proof.
func (c *Client) RecordBlockDegraded(ctx context.Context, height uint64) error {
	return c.appendEntry(ctx, "block_degraded", height, nil)
}

// RecordSlashEvent records a validator slashing at height.
func (c *Client) RecordSlashEvent(ctx context.Context, height uint64, validatorAddr string, slashedStake uint64) error {
	return c.appendEntry(ctx, "slash_event", height, map[string]interface{}{
		"validator":    validatorAddr,
		"slashedStake": slashedStake,
	})
}
