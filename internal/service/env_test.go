package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/zeebo/blake3"

	"github.com/gozhiyuan/omnimemory-sub000/internal/artifact"
	"github.com/gozhiyuan/omnimemory-sub000/internal/blob"
	"github.com/gozhiyuan/omnimemory-sub000/internal/config"
	"github.com/gozhiyuan/omnimemory-sub000/internal/db"
	"github.com/gozhiyuan/omnimemory-sub000/internal/enrich"
	"github.com/gozhiyuan/omnimemory-sub000/internal/episode"
	"github.com/gozhiyuan/omnimemory-sub000/internal/job"
	"github.com/gozhiyuan/omnimemory-sub000/internal/metrics"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/gozhiyuan/omnimemory-sub000/internal/pipeline"
	"github.com/gozhiyuan/omnimemory-sub000/internal/rollup"
	"github.com/gozhiyuan/omnimemory-sub000/internal/vector"
)

// memStore backs every persistence interface the services touch, so one
// instance can drive the whole chain from ingress to rollup. Directory
// ingestion runs a worker pool, so every method takes the lock.
type memStore struct {
	mu        sync.Mutex
	items     map[string]*models.Item
	contexts  map[string]models.MemoryContext
	artifacts map[models.ArtifactKey]*models.Artifact
	tasks     map[string]*models.Task
	seq       int
	clock     time.Time
}

func newMemStore() *memStore {
	return &memStore{
		items:     make(map[string]*models.Item),
		contexts:  make(map[string]models.MemoryContext),
		artifacts: make(map[models.ArtifactKey]*models.Artifact),
		tasks:     make(map[string]*models.Task),
		clock:     time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) CreateItem(_ context.Context, input models.ItemInput) (*models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("item-%03d", m.seq)
	item := &models.Item{
		ID:               models.ItemRef(id),
		UserID:           input.UserID,
		MediaType:        input.MediaType,
		Source:           input.Source,
		BlobKey:          input.BlobKey,
		MimeType:         input.MimeType,
		DeviceID:         input.DeviceID,
		DeviceCapturedAt: input.DeviceCapturedAt,
		DurationSecs:     input.DurationSecs,
		WindowEnd:        input.WindowEnd,
		TZOffsetMinutes:  input.TZOffsetMinutes,
		Status:           models.ItemStatusPending,
		Created:          m.clock.Add(time.Duration(m.seq) * time.Second),
	}
	m.items[id] = item
	cp := *item
	return &cp, nil
}

func (m *memStore) GetItem(_ context.Context, id string) (*models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (m *memStore) UpdateItemStatus(_ context.Context, id, status string, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return fmt.Errorf("item %s not found", id)
	}
	item.Status = status
	item.Error = errMsg
	return nil
}

func (m *memStore) SetItemContentHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id].ContentHash = &hash
	return nil
}

func (m *memStore) SetItemPerceptualHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id].PerceptualHash = &hash
	return nil
}

func (m *memStore) SetItemEventTime(_ context.Context, id string, t time.Time, source string, confidence float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.items[id]
	item.EventTime = &t
	item.EventTimeSource = &source
	item.EventTimeConfidence = &confidence
	return nil
}

func (m *memStore) MarkItemDuplicate(_ context.Context, id, canonicalID, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.items[id]
	ref := models.ItemRef(canonicalID)
	item.DuplicateOf = &ref
	item.DuplicateKind = &kind
	return nil
}

func (m *memStore) FindOldestItemByContentHash(_ context.Context, userID, hash string) (*models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *models.Item
	for _, item := range m.items {
		if item.UserID != userID || item.ContentHash == nil || *item.ContentHash != hash {
			continue
		}
		if oldest == nil || item.Created.Before(oldest.Created) {
			oldest = item
		}
	}
	if oldest == nil {
		return nil, nil
	}
	cp := *oldest
	return &cp, nil
}

func (m *memStore) FindItemsInEventWindow(_ context.Context, userID string, from, to time.Time, excludeID string) ([]models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Item
	for id, item := range m.items {
		if id == excludeID || item.UserID != userID || item.EventTime == nil {
			continue
		}
		if item.EventTime.Before(from) || item.EventTime.After(to) {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EventTime.Equal(*out[j].EventTime) {
			return out[i].EventTime.Before(*out[j].EventTime)
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out, nil
}

func (m *memStore) ListItems(_ context.Context, userID, status string, limit int) ([]models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Item
	for _, item := range m.items {
		if userID != "" && item.UserID != userID {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListItemsByIDs(_ context.Context, ids []string) ([]models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Item, 0, len(ids))
	for _, id := range ids {
		if item, ok := m.items[id]; ok {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (m *memStore) DeleteItem(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return 0, nil
	}
	delete(m.items, id)
	return 1, nil
}

func (m *memStore) CountItemsByBlobKey(_ context.Context, blobKey string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, item := range m.items {
		if item.BlobKey == blobKey {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListActiveUsers(_ context.Context, since time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, item := range m.items {
		if item.Created.After(since) && !seen[item.UserID] {
			seen[item.UserID] = true
			out = append(out, item.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) UpsertContext(_ context.Context, id string, mc models.MemoryContext) (*models.MemoryContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc.ID = surrealmodels.RecordID{Table: "mem_context", ID: id}
	if prev, ok := m.contexts[id]; ok {
		mc.Created = prev.Created
	} else if mc.Created.IsZero() {
		mc.Created = m.clock
	}
	mc.Updated = m.clock
	m.contexts[id] = mc
	out := mc
	return &out, nil
}

func (m *memStore) GetContext(_ context.Context, id string) (*models.MemoryContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memStore) DeleteContext(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contexts[id]; !ok {
		return 0, nil
	}
	delete(m.contexts, id)
	return 1, nil
}

func isSummaryType(contextType string) bool {
	return contextType == models.ContextDailySummary || contextType == models.ContextWeeklySummary
}

func (m *memStore) GetObservationsByItem(_ context.Context, userID, itemID string) ([]models.MemoryContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MemoryContext
	for _, c := range m.contexts {
		if c.IsEpisode || c.UserID != userID || isSummaryType(c.ContextType) || !c.HasSourceItem(itemID) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContextType < out[j].ContextType })
	return out, nil
}

func (m *memStore) GetObservationsByItems(_ context.Context, userID, contextType string, itemIDs []string) ([]models.MemoryContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		want[id] = true
	}
	var out []models.MemoryContext
	for _, c := range m.contexts {
		if c.IsEpisode || c.UserID != userID || c.ContextType != contextType {
			continue
		}
		for _, src := range c.SourceItemIDs {
			if want[src] {
				out = append(out, c)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memStore) DeleteObservationsByItem(_ context.Context, userID, itemID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted []string
	for id, c := range m.contexts {
		if c.IsEpisode || c.UserID != userID || isSummaryType(c.ContextType) {
			continue
		}
		if !c.HasSourceItem(itemID) {
			continue
		}
		delete(m.contexts, id)
		deleted = append(deleted, id)
	}
	sort.Strings(deleted)
	return deleted, nil
}

func (m *memStore) GetEpisodeRecord(_ context.Context, userID, episodeID, contextType string) (*models.MemoryContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contexts {
		if c.IsEpisode && c.UserID == userID && c.EpisodeID != nil && *c.EpisodeID == episodeID && c.ContextType == contextType {
			out := c
			return &out, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetEpisodeRecords(_ context.Context, userID, episodeID string) ([]models.MemoryContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MemoryContext
	for _, c := range m.contexts {
		if c.IsEpisode && c.UserID == userID && c.EpisodeID != nil && *c.EpisodeID == episodeID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContextType < out[j].ContextType })
	return out, nil
}

func (m *memStore) FindDeviceEpisodes(_ context.Context, userID, deviceID string, from, to time.Time) ([]models.MemoryContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MemoryContext
	for _, c := range m.contexts {
		if !c.IsEpisode || c.UserID != userID || c.ContextType != models.ContextActivity {
			continue
		}
		if c.EndTime.Before(from) || c.StartTime.After(to) {
			continue
		}
		for _, id := range c.MetaStrings(models.MetaDeviceIDs) {
			if id == deviceID {
				out = append(out, c)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memStore) FindEpisodeRecordsInRange(_ context.Context, userID, contextType string, from, to time.Time) ([]models.MemoryContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MemoryContext
	for _, c := range m.contexts {
		if !c.IsEpisode || c.UserID != userID || c.ContextType != contextType {
			continue
		}
		if c.StartTime.Before(from) || !c.StartTime.Before(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memStore) FindContextsBySourceItem(_ context.Context, userID, itemID string) ([]models.MemoryContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MemoryContext
	for _, c := range m.contexts {
		if c.UserID == userID && c.HasSourceItem(itemID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return models.MustRecordIDString(out[i].ID) < models.MustRecordIDString(out[j].ID)
	})
	return out, nil
}

func (m *memStore) EditContextText(_ context.Context, id string, title, summary *string, keywords []string) (*models.MemoryContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok {
		return nil, fmt.Errorf("edit context %s: %w", id, db.ErrNotFound)
	}
	if title != nil {
		c.Title = *title
	}
	if summary != nil {
		c.Summary = *summary
	}
	if keywords != nil {
		c.Keywords = keywords
	}
	c.EditedByUser = true
	c.Updated = m.clock
	m.contexts[id] = c
	out := c
	return &out, nil
}

func (m *memStore) GetArtifact(_ context.Context, key models.ArtifactKey) (*models.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[key]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) CreateArtifact(_ context.Context, key models.ArtifactKey, payload map[string]any, blobKey *string) (*models.Artifact, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.artifacts[key]; ok {
		cp := *existing
		return &cp, false, nil
	}
	a := &models.Artifact{
		ItemID:          key.ItemID,
		Kind:            key.Kind,
		Producer:        key.Producer,
		ProducerVersion: key.ProducerVersion,
		Fingerprint:     key.Fingerprint,
		Payload:         payload,
		BlobKey:         blobKey,
		Created:         m.clock,
	}
	m.artifacts[key] = a
	cp := *a
	return &cp, true, nil
}

func (m *memStore) ListArtifactsByItem(_ context.Context, itemID string) ([]models.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Artifact
	for key, a := range m.artifacts {
		if key.ItemID == itemID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func (m *memStore) DeleteArtifactsByItem(_ context.Context, itemID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var blobKeys []string
	for key, a := range m.artifacts {
		if key.ItemID != itemID {
			continue
		}
		if a.BlobKey != nil && *a.BlobKey != "" {
			blobKeys = append(blobKeys, *a.BlobKey)
		}
		delete(m.artifacts, key)
	}
	sort.Strings(blobKeys)
	return blobKeys, nil
}

func (m *memStore) ListTasks(_ context.Context, status, name string, limit int) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Task
	for _, t := range m.tasks {
		if status != "" && t.Status != status {
			continue
		}
		if name != "" && t.Name != name {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) RetryTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != models.TaskStatusFailed {
		return fmt.Errorf("retry task %s: %w", id, db.ErrNotFound)
	}
	t.Status = models.TaskStatusPending
	t.Attempts = 0
	t.Error = nil
	return nil
}

func (m *memStore) GetStats(_ context.Context) (*db.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	itemCounts := make(map[string]int)
	for _, item := range m.items {
		itemCounts[item.Status]++
	}
	stats := &db.Stats{Artifacts: len(m.artifacts)}
	for status, n := range itemCounts {
		stats.ItemsByStatus = append(stats.ItemsByStatus, db.StatusCount{Status: status, Count: n})
	}
	return stats, nil
}

// queuedTask is one entry a memQueue holds until the test drains it.
type queuedTask struct {
	ID      string
	Name    string
	Payload map[string]any
}

// memQueue satisfies Enqueuer and hands tasks to registered handlers on
// demand, so chained stages run deterministically inside the test.
type memQueue struct {
	mu    sync.Mutex
	queue []queuedTask
	seq   int
}

func (q *memQueue) Enqueue(_ context.Context, name string, payload any) (string, error) {
	p, err := models.EncodePayload(payload)
	if err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	id := fmt.Sprintf("task-%03d", q.seq)
	q.queue = append(q.queue, queuedTask{ID: id, Name: name, Payload: p})
	return id, nil
}

func (q *memQueue) pop() (queuedTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return queuedTask{}, false
	}
	t := q.queue[0]
	q.queue = q.queue[1:]
	return t, true
}

func (q *memQueue) names() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.queue))
	for _, t := range q.queue {
		out = append(out, t.Name)
	}
	return out
}

// mapRegistrar collects handlers the way a dispatcher would.
type mapRegistrar map[string]job.Handler

func (m mapRegistrar) Register(name string, h job.Handler) { m[name] = h }

// stubProvider returns a canned enrichment result.
type stubProvider struct {
	name string
	res  enrich.Result
}

func (p *stubProvider) Name() string    { return p.name }
func (p *stubProvider) Version() string { return "test-v1" }

func (p *stubProvider) Enrich(context.Context, enrich.Input) (enrich.Result, error) {
	return p.res, nil
}

// tokenEmbed maps each word to a dimension, so texts sharing words score
// high and disjoint texts score near zero.
func tokenEmbed(text string) []float32 {
	vec := make([]float32, 64)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		sum := blake3.Sum256([]byte(tok))
		vec[int(sum[0])%64]++
	}
	return vec
}

// serviceEnv wires real engines over in-memory stores: the pipeline,
// episode formation, rollups, and the services under test all share one
// memStore and one vector index.
type serviceEnv struct {
	store     *memStore
	blobs     *blob.Memory
	index     *vector.Memory
	queue     *memQueue
	vision    *stubProvider
	caption   *stubProvider
	collector *metrics.Collector

	orch     *Orchestrator
	handlers mapRegistrar
	ingest   *IngestService
	search   *SearchService
	browse   *BrowseService
}

func testConfig() config.Config {
	return config.Config{
		EpisodeSimilarity:  0.60,
		EpisodeMaxGap:      2 * time.Hour,
		DeviceWindow:       time.Hour,
		SummaryMaxObs:      80,
		SummaryHeadObs:     40,
		SummaryTailObs:     40,
		NearDupWindow:      10 * time.Minute,
		NearDupMaxDistance: 5,
		HighlightsLimit:    6,
		SearchHalfLifeDays: 30,
		DefaultUser:        "default",
	}
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()
	cfg := testConfig()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &serviceEnv{
		store:     newMemStore(),
		blobs:     blob.NewMemory(),
		index:     vector.NewMemory(),
		queue:     &memQueue{},
		collector: metrics.NewCollector(),
		vision: &stubProvider{name: "vision", res: enrich.Result{
			Status: enrich.StatusOK,
			Parsed: map[string]any{
				"activity": "making coffee",
				"location": "kitchen",
			},
		}},
		caption: &stubProvider{name: "caption", res: enrich.Result{
			Status: enrich.StatusOK, RawText: "Espresso brewing at the kitchen counter",
		}},
	}
	env.index.EmbedFunc = tokenEmbed

	cache := artifact.NewCache(env.store, log)
	disabled := enrich.Result{Status: enrich.StatusDisabled, Err: "not configured"}
	runner := pipeline.NewRunner(pipeline.Deps{
		Store: env.store,
		Blobs: env.blobs,
		Cache: cache,
		Index: env.index,
		Providers: &enrich.Set{
			Caption:    env.caption,
			OCR:        &stubProvider{name: "ocr", res: disabled},
			Vision:     env.vision,
			Transcribe: &stubProvider{name: "transcribe", res: disabled},
			Generic:    &stubProvider{name: "generic-context", res: disabled},
			Summary:    enrich.DisabledSummarizer{Reason: "not used in service tests"},
		},
		Config: cfg,
		Log:    log,
	})
	engine := episode.NewEngine(episode.Deps{
		Store:      env.store,
		Index:      env.index,
		Cache:      cache,
		Summarizer: enrich.DisabledSummarizer{Reason: "not used in service tests"},
		Config:     cfg,
		Log:        log,
	})
	rollups := rollup.NewAggregator(env.store, env.index, cfg, log)

	env.orch = NewOrchestrator(OrchestratorDeps{
		Store:     env.store,
		Blobs:     env.blobs,
		Pipeline:  runner,
		Episodes:  engine,
		Rollups:   rollups,
		Queue:     env.queue,
		Index:     env.index,
		Collector: env.collector,
		Log:       log,
	})
	env.handlers = make(mapRegistrar)
	env.orch.RegisterHandlers(env.handlers)

	env.ingest = NewIngestService(env.store, env.blobs, env.queue, log)
	env.search = NewSearchService(env.index, cfg, env.collector, log)
	env.browse = NewBrowseService(env.store, env.queue, env.index, log)
	return env
}

// drain runs queued tasks in order, including tasks enqueued while
// draining, until the queue is empty.
func (env *serviceEnv) drain(t *testing.T) {
	t.Helper()
	for i := 0; ; i++ {
		if i > 100 {
			t.Fatal("queue did not drain after 100 tasks")
		}
		qt, ok := env.queue.pop()
		if !ok {
			return
		}
		h, ok := env.handlers[qt.Name]
		if !ok {
			t.Fatalf("no handler registered for %s", qt.Name)
		}
		task := &models.Task{
			ID:          surrealmodels.RecordID{Table: "task", ID: qt.ID},
			Name:        qt.Name,
			Payload:     qt.Payload,
			Status:      models.TaskStatusRunning,
			Attempts:    1,
			MaxAttempts: 3,
		}
		if err := h(context.Background(), task); err != nil {
			t.Fatalf("task %s failed: %v", qt.Name, err)
		}
	}
}

// ingestPhoto stores the bytes and creates the item the way IngestBytes
// does, returning the item id.
func (env *serviceEnv) ingestPhoto(t *testing.T, userID string, data []byte, capturedAt time.Time) string {
	t.Helper()
	item, err := env.ingest.IngestBytes(context.Background(), data, models.MediaPhoto, "image/png", IngestOptions{
		UserID:     userID,
		Source:     "test",
		CapturedAt: &capturedAt,
	})
	if err != nil {
		t.Fatalf("ingest photo: %v", err)
	}
	return models.MustRecordIDString(item.ID)
}

// solidPNG is a uniform image; its average hash has no bits set.
func solidPNG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, c)
		}
	}
	return encodePNG(t, img)
}

// splitPNG is half black, half white; its average hash sits 32 bits from a
// uniform image's, far past any near-duplicate threshold.
func splitPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			if x < 8 {
				img.Set(x, y, color.RGBA{0, 0, 0, 255})
			} else {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			}
		}
	}
	return encodePNG(t, img)
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
