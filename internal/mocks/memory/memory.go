// Package memory contains simple hand-written test doubles for the recordflow ports.
// These are lightweight and suitable for unit tests without codegen.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/target/recordflow/internal/core"
	"github.com/target/recordflow/internal/domain/model"
)

// Ensure compile-time conformance to ports.
var (
	_ core.CacheRepository         = (*Cache)(nil)
	_ core.EventPublisher          = (*Publisher)(nil)
	_ core.OrganizationRepository  = (*Organizations)(nil)
	_ core.MedicalRecordRepository = (*Records)(nil)
)

type cacheEntry struct {
	value     []byte
	version   int64
	expiresAt time.Time
}

// Cache is an in-memory CacheRepository with TTL support.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	// Now overrides the clock used for expiry.
	Now func() time.Time
	// Err, when set, is returned by every operation.
	Err error
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

func (c *Cache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if c.Err != nil {
		return c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := cacheEntry{value: slices.Clone(value)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

func (c *Cache) SetIfNewer(_ context.Context, key string, version int64, value []byte, ttl time.Duration) (bool, error) {
	if c.Err != nil {
		return false, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[key]; ok && (cur.expiresAt.IsZero() || c.now().Before(cur.expiresAt)) && cur.version > version {
		return false, nil
	}
	e := cacheEntry{value: slices.Clone(value), version: version}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return true, nil
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, nil
	}
	return slices.Clone(e.value), nil
}

func (c *Cache) Delete(_ context.Context, key string) (bool, error) {
	if c.Err != nil {
		return false, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok, nil
}

func (c *Cache) DeleteByPrefix(_ context.Context, prefix string) (int, error) {
	if c.Err != nil {
		return 0, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}

func (c *Cache) Health(context.Context) error { return c.Err }

// Len returns the number of stored keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Publisher records every published job event.
type Publisher struct {
	mu     sync.Mutex
	events []model.JobEvent
	// Err, when set, is returned from PublishJobEvent after recording the event.
	Err error
}

func (p *Publisher) PublishJobEvent(_ context.Context, event model.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.Err
}

// Events returns a copy of the published events.
func (p *Publisher) Events() []model.JobEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.events)
}

// Transitions returns the transition names of the published events in order.
func (p *Publisher) Transitions() []string {
	events := p.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Transition
	}
	return out
}

// Organizations is an in-memory OrganizationRepository.
type Organizations struct {
	mu   sync.Mutex
	orgs map[string]*model.Organization
}

// NewOrganizations creates a repository pre-populated with orgs.
func NewOrganizations(orgs ...*model.Organization) *Organizations {
	o := &Organizations{orgs: make(map[string]*model.Organization)}
	for _, org := range orgs {
		o.orgs[org.ID] = org
	}
	return o
}

// Add stores an active organization with the given id and returns it.
func (o *Organizations) Add(id, name string) *model.Organization {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now().UTC()
	org := &model.Organization{ID: id, Name: name, CMJ: "CMJ-" + id, CreatedAt: now, UpdatedAt: now}
	o.orgs[id] = org
	return org
}

func (o *Organizations) Create(_ context.Context, req *model.CreateOrganizationRequest) (*model.Organization, error) {
	if req == nil || req.Name == "" || req.CMJ == "" {
		return nil, errors.New("name and cmj are required")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, existing := range o.orgs {
		if existing.CMJ == req.CMJ {
			return nil, fmt.Errorf("organization with cmj %s already exists", req.CMJ)
		}
	}
	now := time.Now().UTC()
	org := &model.Organization{
		ID: uuid.NewString(), Name: req.Name, Address: req.Address, CMJ: req.CMJ, CIN: req.CIN,
		CreatedAt: now, UpdatedAt: now,
	}
	o.orgs[org.ID] = org
	return org, nil
}

func (o *Organizations) GetByID(_ context.Context, id string) (*model.Organization, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	org, ok := o.orgs[id]
	if !ok {
		return nil, core.ErrOrganizationNotFound
	}
	cp := *org
	return &cp, nil
}

type recordKey struct {
	jobID string
	seq   int
}

// Records is an in-memory MedicalRecordRepository honouring the (source job, seq)
// idempotency key.
type Records struct {
	mu      sync.Mutex
	records map[string]*model.MedicalRecord
	order   []string
	seen    map[recordKey]bool
	// InsertErr, when set, fails every insert.
	InsertErr error
}

// NewRecords creates an empty repository.
func NewRecords() *Records {
	return &Records{records: make(map[string]*model.MedicalRecord), seen: make(map[recordKey]bool)}
}

// Put stores rec as-is, generating an id when missing.
func (r *Records) Put(rec *model.MedicalRecord) *model.MedicalRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	r.records[rec.ID] = rec
	r.order = append(r.order, rec.ID)
	return rec
}

func (r *Records) GetByID(_ context.Context, id string) (*model.MedicalRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, core.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *Records) Insert(_ context.Context, rec model.NewMedicalRecord) (bool, error) {
	if r.InsertErr != nil {
		return false, r.InsertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(rec), nil
}

func (r *Records) InsertBatch(_ context.Context, recs []model.NewMedicalRecord) (int, error) {
	if r.InsertErr != nil {
		return 0, r.InsertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range recs {
		if r.insertLocked(rec) {
			n++
		}
	}
	return n, nil
}

func (r *Records) insertLocked(rec model.NewMedicalRecord) bool {
	if rec.SourceJobID != nil {
		key := recordKey{jobID: *rec.SourceJobID, seq: rec.SourceSeq}
		if r.seen[key] {
			return false
		}
		r.seen[key] = true
	}
	now := time.Now().UTC()
	stored := &model.MedicalRecord{
		ID:             uuid.NewString(),
		PatientID:      rec.PatientID,
		OrganizationID: rec.OrganizationID,
		RecordData:     json.RawMessage(slices.Clone(rec.RecordData)),
		IsAnonymous:    rec.IsAnonymous,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.records[stored.ID] = stored
	r.order = append(r.order, stored.ID)
	return true
}

func (r *Records) ListByOrganization(_ context.Context, orgID string, limit, offset int) ([]*model.MedicalRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.MedicalRecord
	for _, id := range r.order {
		if rec := r.records[id]; rec.OrganizationID == orgID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored records owned by orgID.
func (r *Records) Count(orgID string) int {
	recs, _ := r.ListByOrganization(context.Background(), orgID, 0, 0)
	return len(recs)
}
