// Package db provides integration tests for SurrealDB operations.
package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	// Start SurrealDB container
	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	// Get container host and port
	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	// Connect to test database
	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	// Initialize schema with test embedding dimension (384)
	if err := testDB.InitSchema(ctx, 384); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	// Run tests
	code := m.Run()

	// Cleanup
	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

// dummyEmbedding returns a 384-dim test vector with most weight on one axis,
// so cosine ordering between vectors is predictable.
func dummyEmbedding(axis int) []float32 {
	embedding := make([]float32, 384)
	for i := range embedding {
		embedding[i] = 0.01
	}
	embedding[axis%384] = 1.0
	return embedding
}

func testUser(t *testing.T) string {
	t.Helper()
	return "user-" + uuid.NewString()[:8]
}

func createTestItem(t *testing.T, userID string) *models.Item {
	t.Helper()
	ctx := context.Background()

	item, err := testDB.CreateItem(ctx, models.ItemInput{
		UserID:    userID,
		MediaType: models.MediaPhoto,
		Source:    "upload",
		BlobKey:   "blobs/" + uuid.NewString(),
		MimeType:  "image/jpeg",
	})
	if err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}
	t.Cleanup(func() {
		_, _ = testDB.DeleteItem(ctx, models.MustRecordIDString(item.ID))
	})
	return item
}

// =============================================================================
// ITEM TESTS
// =============================================================================

func TestCreateItem(t *testing.T) {
	ctx := context.Background()
	userID := testUser(t)

	deviceID := "phone-1"
	captured := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	item, err := testDB.CreateItem(ctx, models.ItemInput{
		UserID:           userID,
		MediaType:        models.MediaPhoto,
		Source:           "upload",
		BlobKey:          "blobs/test-create",
		MimeType:         "image/jpeg",
		DeviceID:         &deviceID,
		DeviceCapturedAt: &captured,
		TZOffsetMinutes:  120,
	})
	if err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}
	defer func() {
		_, _ = testDB.DeleteItem(ctx, models.MustRecordIDString(item.ID))
	}()

	if item.UserID != userID {
		t.Errorf("Expected user %q, got %q", userID, item.UserID)
	}
	if item.Status != models.ItemStatusPending {
		t.Errorf("Expected status pending, got %q", item.Status)
	}
	if item.DeviceID == nil || *item.DeviceID != deviceID {
		t.Errorf("Expected device %q, got %v", deviceID, item.DeviceID)
	}
	if item.DeviceCapturedAt == nil || !item.DeviceCapturedAt.Equal(captured) {
		t.Errorf("Expected captured at %v, got %v", captured, item.DeviceCapturedAt)
	}
	if item.TZOffsetMinutes != 120 {
		t.Errorf("Expected tz offset 120, got %d", item.TZOffsetMinutes)
	}
	if item.Created.IsZero() {
		t.Error("Expected created timestamp to be set")
	}
}

func TestGetItem(t *testing.T) {
	ctx := context.Background()
	item := createTestItem(t, testUser(t))

	got, err := testDB.GetItem(ctx, models.MustRecordIDString(item.ID))
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetItem returned nil")
	}
	if got.BlobKey != item.BlobKey {
		t.Errorf("Expected blob key %q, got %q", item.BlobKey, got.BlobKey)
	}

	// Get non-existent
	missing, err := testDB.GetItem(ctx, "non-existent-id")
	if err != nil {
		t.Errorf("GetItem with non-existent ID should not error: %v", err)
	}
	if missing != nil {
		t.Error("GetItem with non-existent ID should return nil")
	}
}

func TestUpdateItemStatus(t *testing.T) {
	ctx := context.Background()
	item := createTestItem(t, testUser(t))
	id := models.MustRecordIDString(item.ID)

	errMsg := "blob fetch failed"
	if err := testDB.UpdateItemStatus(ctx, id, models.ItemStatusFailed, &errMsg); err != nil {
		t.Fatalf("UpdateItemStatus failed: %v", err)
	}

	got, err := testDB.GetItem(ctx, id)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if got.Status != models.ItemStatusFailed {
		t.Errorf("Expected status failed, got %q", got.Status)
	}
	if got.Error == nil || *got.Error != errMsg {
		t.Errorf("Expected error %q, got %v", errMsg, got.Error)
	}

	// A later successful transition clears the message.
	if err := testDB.UpdateItemStatus(ctx, id, models.ItemStatusCompleted, nil); err != nil {
		t.Fatalf("UpdateItemStatus failed: %v", err)
	}
	got, err = testDB.GetItem(ctx, id)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if got.Status != models.ItemStatusCompleted {
		t.Errorf("Expected status completed, got %q", got.Status)
	}
	if got.Error != nil {
		t.Errorf("Expected error cleared, got %v", *got.Error)
	}
}

func TestSetItemEventTime(t *testing.T) {
	ctx := context.Background()
	item := createTestItem(t, testUser(t))
	id := models.MustRecordIDString(item.ID)

	eventTime := time.Date(2025, 6, 1, 9, 4, 0, 0, time.UTC)
	err := testDB.SetItemEventTime(ctx, id, eventTime, models.EventSourceCapture, models.EventConfidenceCapture)
	if err != nil {
		t.Fatalf("SetItemEventTime failed: %v", err)
	}

	got, err := testDB.GetItem(ctx, id)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if got.EventTime == nil || !got.EventTime.Equal(eventTime) {
		t.Errorf("Expected event time %v, got %v", eventTime, got.EventTime)
	}
	if got.EventTimeSource == nil || *got.EventTimeSource != models.EventSourceCapture {
		t.Errorf("Expected source capture_metadata, got %v", got.EventTimeSource)
	}
	if got.EventTimeConfidence == nil || *got.EventTimeConfidence != models.EventConfidenceCapture {
		t.Errorf("Expected confidence %v, got %v", models.EventConfidenceCapture, got.EventTimeConfidence)
	}
}

func TestMarkItemDuplicate(t *testing.T) {
	ctx := context.Background()
	userID := testUser(t)
	canonical := createTestItem(t, userID)
	dup := createTestItem(t, userID)

	canonicalID := models.MustRecordIDString(canonical.ID)
	dupID := models.MustRecordIDString(dup.ID)

	if err := testDB.MarkItemDuplicate(ctx, dupID, canonicalID, models.DuplicateExact); err != nil {
		t.Fatalf("MarkItemDuplicate failed: %v", err)
	}

	got, err := testDB.GetItem(ctx, dupID)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if !got.IsDuplicate() {
		t.Fatal("Expected item to be marked duplicate")
	}
	if models.MustRecordIDString(*got.DuplicateOf) != canonicalID {
		t.Errorf("Expected duplicate_of %q, got %v", canonicalID, got.DuplicateOf)
	}
	if got.DuplicateKind == nil || *got.DuplicateKind != models.DuplicateExact {
		t.Errorf("Expected duplicate kind exact, got %v", got.DuplicateKind)
	}
}

func TestFindOldestItemByContentHash(t *testing.T) {
	ctx := context.Background()
	userID := testUser(t)
	hash := "hash-" + uuid.NewString()[:8]

	first := createTestItem(t, userID)
	second := createTestItem(t, userID)
	other := createTestItem(t, testUser(t))

	for _, it := range []*models.Item{first, second, other} {
		if err := testDB.SetItemContentHash(ctx, models.MustRecordIDString(it.ID), hash); err != nil {
			t.Fatalf("SetItemContentHash failed: %v", err)
		}
	}

	got, err := testDB.FindOldestItemByContentHash(ctx, userID, hash)
	if err != nil {
		t.Fatalf("FindOldestItemByContentHash failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected a match")
	}
	if models.MustRecordIDString(got.ID) != models.MustRecordIDString(first.ID) {
		t.Errorf("Expected oldest item %v, got %v", first.ID, got.ID)
	}

	// Unknown hash
	missing, err := testDB.FindOldestItemByContentHash(ctx, userID, "no-such-hash")
	if err != nil {
		t.Fatalf("FindOldestItemByContentHash failed: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for unseen hash")
	}
}

func TestFindItemsInEventWindow(t *testing.T) {
	ctx := context.Background()
	userID := testUser(t)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	anchor := createTestItem(t, userID)
	inside := createTestItem(t, userID)
	late := createTestItem(t, userID)
	outside := createTestItem(t, userID)

	set := func(it *models.Item, at time.Time) {
		if err := testDB.SetItemEventTime(ctx, models.MustRecordIDString(it.ID), at, models.EventSourceDevice, models.EventConfidenceDevice); err != nil {
			t.Fatalf("SetItemEventTime failed: %v", err)
		}
	}
	set(anchor, base)
	set(inside, base.Add(4*time.Minute))
	set(late, base.Add(9*time.Minute))
	set(outside, base.Add(30*time.Minute))

	matches, err := testDB.FindItemsInEventWindow(ctx, userID, base.Add(-10*time.Minute), base.Add(10*time.Minute), models.MustRecordIDString(anchor.ID))
	if err != nil {
		t.Fatalf("FindItemsInEventWindow failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(matches))
	}
	// Ordered by event time: inside before late; anchor itself excluded.
	if models.MustRecordIDString(matches[0].ID) != models.MustRecordIDString(inside.ID) {
		t.Errorf("Expected first match %v, got %v", inside.ID, matches[0].ID)
	}
	if models.MustRecordIDString(matches[1].ID) != models.MustRecordIDString(late.ID) {
		t.Errorf("Expected second match %v, got %v", late.ID, matches[1].ID)
	}
}

func TestListItems(t *testing.T) {
	ctx := context.Background()
	userID := testUser(t)

	a := createTestItem(t, userID)
	b := createTestItem(t, userID)
	if err := testDB.UpdateItemStatus(ctx, models.MustRecordIDString(b.ID), models.ItemStatusCompleted, nil); err != nil {
		t.Fatalf("UpdateItemStatus failed: %v", err)
	}

	all, err := testDB.ListItems(ctx, userID, "", 10)
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 items, got %d", len(all))
	}

	pending, err := testDB.ListItems(ctx, userID, models.ItemStatusPending, 10)
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending item, got %d", len(pending))
	}
	if models.MustRecordIDString(pending[0].ID) != models.MustRecordIDString(a.ID) {
		t.Errorf("Expected pending item %v, got %v", a.ID, pending[0].ID)
	}
}

func TestListItemsByIDs(t *testing.T) {
	ctx := context.Background()
	userID := testUser(t)

	a := createTestItem(t, userID)
	b := createTestItem(t, userID)

	items, err := testDB.ListItemsByIDs(ctx, []string{
		models.MustRecordIDString(a.ID),
		models.MustRecordIDString(b.ID),
	})
	if err != nil {
		t.Fatalf("ListItemsByIDs failed: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("Expected 2 items, got %d", len(items))
	}

	empty, err := testDB.ListItemsByIDs(ctx, nil)
	if err != nil {
		t.Fatalf("ListItemsByIDs with empty input failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected no items, got %d", len(empty))
	}
}

func TestDeleteItem(t *testing.T) {
	ctx := context.Background()
	item := createTestItem(t, testUser(t))
	id := models.MustRecordIDString(item.ID)

	count, err := testDB.DeleteItem(ctx, id)
	if err != nil {
		t.Fatalf("DeleteItem failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 deleted, got %d", count)
	}

	// Idempotent
	count, err = testDB.DeleteItem(ctx, id)
	if err != nil {
		t.Fatalf("DeleteItem (repeat) failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 deleted on repeat, got %d", count)
	}
}

// =============================================================================
// ARTIFACT TESTS
// =============================================================================

func TestArtifactFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	item := createTestItem(t, testUser(t))

	key := models.ArtifactKey{
		ItemID:          models.MustRecordIDString(item.ID),
		Kind:            models.ArtifactContentHash,
		Producer:        "blake3",
		ProducerVersion: "1",
		Fingerprint:     "fp-1",
	}

	first, created, err := testDB.CreateArtifact(ctx, key, map[string]any{"hash": "aaa"}, nil)
	if err != nil {
		t.Fatalf("CreateArtifact failed: %v", err)
	}
	if !created {
		t.Fatal("Expected first write to create")
	}

	// Same key again with a different payload: stored row wins.
	second, created, err := testDB.CreateArtifact(ctx, key, map[string]any{"hash": "bbb"}, nil)
	if err != nil {
		t.Fatalf("CreateArtifact (repeat) failed: %v", err)
	}
	if created {
		t.Error("Expected repeat write to return existing row")
	}
	if models.MustRecordIDString(second.ID) != models.MustRecordIDString(first.ID) {
		t.Errorf("Expected same record, got %v and %v", first.ID, second.ID)
	}
	if second.Payload["hash"] != "aaa" {
		t.Errorf("Expected stored payload to win, got %v", second.Payload["hash"])
	}
}

func TestArtifactFingerprintSeparatesRows(t *testing.T) {
	ctx := context.Background()
	item := createTestItem(t, testUser(t))
	itemID := models.MustRecordIDString(item.ID)

	base := models.ArtifactKey{
		ItemID:          itemID,
		Kind:            models.ArtifactCaption,
		Producer:        "llm",
		ProducerVersion: "1",
		Fingerprint:     "prompt-v1",
	}
	changed := base
	changed.Fingerprint = "prompt-v2"

	_, createdA, err := testDB.CreateArtifact(ctx, base, map[string]any{"raw_text": "a dog"}, nil)
	if err != nil {
		t.Fatalf("CreateArtifact failed: %v", err)
	}
	_, createdB, err := testDB.CreateArtifact(ctx, changed, map[string]any{"raw_text": "a cat"}, nil)
	if err != nil {
		t.Fatalf("CreateArtifact failed: %v", err)
	}
	if !createdA || !createdB {
		t.Error("Expected both fingerprints to create distinct rows")
	}

	artifacts, err := testDB.ListArtifactsByItem(ctx, itemID)
	if err != nil {
		t.Fatalf("ListArtifactsByItem failed: %v", err)
	}
	if len(artifacts) != 2 {
		t.Errorf("Expected 2 artifacts, got %d", len(artifacts))
	}
}

func TestGetArtifact(t *testing.T) {
	ctx := context.Background()
	item := createTestItem(t, testUser(t))

	key := models.ArtifactKey{
		ItemID:          models.MustRecordIDString(item.ID),
		Kind:            models.ArtifactMetadata,
		Producer:        "exif",
		ProducerVersion: "1",
		Fingerprint:     "fp",
	}

	missing, err := testDB.GetArtifact(ctx, key)
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil before write")
	}

	if _, _, err := testDB.CreateArtifact(ctx, key, map[string]any{"width": 640}, nil); err != nil {
		t.Fatalf("CreateArtifact failed: %v", err)
	}

	got, err := testDB.GetArtifact(ctx, key)
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected artifact after write")
	}
	if got.Kind != models.ArtifactMetadata {
		t.Errorf("Expected kind metadata, got %q", got.Kind)
	}
}

func TestDeleteArtifactsByItem(t *testing.T) {
	ctx := context.Background()
	item := createTestItem(t, testUser(t))
	itemID := models.MustRecordIDString(item.ID)

	blobKey := "derived/thumb-1"
	key := models.ArtifactKey{
		ItemID:          itemID,
		Kind:            models.ArtifactPerceptualHash,
		Producer:        "ahash",
		ProducerVersion: "1",
		Fingerprint:     "fp",
	}
	if _, _, err := testDB.CreateArtifact(ctx, key, nil, &blobKey); err != nil {
		t.Fatalf("CreateArtifact failed: %v", err)
	}

	blobKeys, err := testDB.DeleteArtifactsByItem(ctx, itemID)
	if err != nil {
		t.Fatalf("DeleteArtifactsByItem failed: %v", err)
	}
	if len(blobKeys) != 1 || blobKeys[0] != blobKey {
		t.Errorf("Expected blob key %q returned, got %v", blobKey, blobKeys)
	}

	remaining, err := testDB.ListArtifactsByItem(ctx, itemID)
	if err != nil {
		t.Fatalf("ListArtifactsByItem failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("Expected no artifacts left, got %d", len(remaining))
	}
}

// =============================================================================
// MEMORY CONTEXT TESTS
// =============================================================================

func upsertTestContext(t *testing.T, mc models.MemoryContext) *models.MemoryContext {
	t.Helper()
	ctx := context.Background()

	id := uuid.NewString()
	saved, err := testDB.UpsertContext(ctx, id, mc)
	if err != nil {
		t.Fatalf("UpsertContext failed: %v", err)
	}
	t.Cleanup(func() {
		_, _ = testDB.DeleteContext(ctx, models.MustRecordIDString(saved.ID))
	})
	return saved
}

func TestUpsertContextPreservesCreated(t *testing.T) {
	ctx := context.Background()
	userID := testUser(t)

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	saved := upsertTestContext(t, models.MemoryContext{
		UserID:      userID,
		ContextType: models.ContextActivity,
		Title:       "Morning walk",
		Summary:     "A walk in the park",
		StartTime:   start,
		EndTime:     start.Add(30 * time.Minute),
	})
	if saved.Created.IsZero() {
		t.Fatal("Expected created to be set")
	}

	// Update through the same ID keeps the original created timestamp.
	saved.Title = "Morning walk with coffee"
	updated, err := testDB.UpsertContext(ctx, models.MustRecordIDString(saved.ID), *saved)
	if err != nil {
		t.Fatalf("UpsertContext (update) failed: %v", err)
	}
	if updated.Title != "Morning walk with coffee" {
		t.Errorf("Expected updated title, got %q", updated.Title)
	}
	if !updated.Created.Equal(saved.Created) {
		t.Errorf("Expected created %v preserved, got %v", saved.Created, updated.Created)
	}
}

func TestGetObservationsByItem(t *testing.T) {
	userID := testUser(t)
	itemID := uuid.NewString()
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	obs := upsertTestContext(t, models.MemoryContext{
		UserID:        userID,
		ContextType:   models.ContextActivity,
		Title:         "Coffee",
		SourceItemIDs: []string{itemID},
		StartTime:     start,
		EndTime:       start,
	})
	// Episode record referencing the same item must not count as observation.
	episodeID := uuid.NewString()
	upsertTestContext(t, models.MemoryContext{
		UserID:        userID,
		ContextType:   models.ContextActivity,
		IsEpisode:     true,
		EpisodeID:     &episodeID,
		Title:         "Coffee break",
		SourceItemIDs: []string{itemID},
		StartTime:     start,
		EndTime:       start,
	})
	// Neither does a daily summary.
	upsertTestContext(t, models.MemoryContext{
		UserID:        userID,
		ContextType:   models.ContextDailySummary,
		Title:         "June 1",
		SourceItemIDs: []string{itemID},
		StartTime:     start,
		EndTime:       start,
		Metadata:      map[string]any{models.MetaDateKey: "2025-06-01"},
	})

	got, err := testDB.GetObservationsByItem(context.Background(), userID, itemID)
	if err != nil {
		t.Fatalf("GetObservationsByItem failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 observation, got %d", len(got))
	}
	if models.MustRecordIDString(got[0].ID) != models.MustRecordIDString(obs.ID) {
		t.Errorf("Expected observation %v, got %v", obs.ID, got[0].ID)
	}
}

func TestEpisodeRecords(t *testing.T) {
	userID := testUser(t)
	episodeID := uuid.NewString()
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	upsertTestContext(t, models.MemoryContext{
		UserID:      userID,
		ContextType: models.ContextActivity,
		IsEpisode:   true,
		EpisodeID:   &episodeID,
		Title:       "Coffee with Sam",
		StartTime:   start,
		EndTime:     start.Add(10 * time.Minute),
	})
	upsertTestContext(t, models.MemoryContext{
		UserID:      userID,
		ContextType: models.ContextSocial,
		IsEpisode:   true,
		EpisodeID:   &episodeID,
		Title:       "Sam",
		StartTime:   start,
		EndTime:     start.Add(10 * time.Minute),
	})

	records, err := testDB.GetEpisodeRecords(context.Background(), userID, episodeID)
	if err != nil {
		t.Fatalf("GetEpisodeRecords failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	activity, err := testDB.GetEpisodeRecord(context.Background(), userID, episodeID, models.ContextActivity)
	if err != nil {
		t.Fatalf("GetEpisodeRecord failed: %v", err)
	}
	if activity == nil {
		t.Fatal("Expected activity record")
	}
	if activity.Title != "Coffee with Sam" {
		t.Errorf("Expected activity title, got %q", activity.Title)
	}

	missing, err := testDB.GetEpisodeRecord(context.Background(), userID, episodeID, models.ContextFood)
	if err != nil {
		t.Fatalf("GetEpisodeRecord failed: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for absent record type")
	}
}

func TestFindEpisodeRecordsInRange(t *testing.T) {
	userID := testUser(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mk := func(startOffset time.Duration) {
		episodeID := uuid.NewString()
		upsertTestContext(t, models.MemoryContext{
			UserID:      userID,
			ContextType: models.ContextActivity,
			IsEpisode:   true,
			EpisodeID:   &episodeID,
			Title:       "Activity",
			StartTime:   day.Add(startOffset),
			EndTime:     day.Add(startOffset + 15*time.Minute),
		})
	}
	mk(9 * time.Hour)
	mk(14 * time.Hour)
	mk(26 * time.Hour) // next day

	records, err := testDB.FindEpisodeRecordsInRange(context.Background(), userID, models.ContextActivity, day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("FindEpisodeRecordsInRange failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records in day, got %d", len(records))
	}
	if !records[0].StartTime.Before(records[1].StartTime) {
		t.Error("Expected records ordered by start time")
	}
}

func TestFindDeviceEpisodes(t *testing.T) {
	userID := testUser(t)
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	episodeID := uuid.NewString()

	upsertTestContext(t, models.MemoryContext{
		UserID:      userID,
		ContextType: models.ContextActivity,
		IsEpisode:   true,
		EpisodeID:   &episodeID,
		Title:       "Commute",
		StartTime:   start,
		EndTime:     start.Add(20 * time.Minute),
		Metadata:    map[string]any{models.MetaDeviceIDs: []string{"phone-1"}},
	})

	matches, err := testDB.FindDeviceEpisodes(context.Background(), userID, "phone-1", start.Add(-time.Hour), start.Add(time.Hour))
	if err != nil {
		t.Fatalf("FindDeviceEpisodes failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Expected 1 device episode, got %d", len(matches))
	}

	none, err := testDB.FindDeviceEpisodes(context.Background(), userID, "tablet-9", start.Add(-time.Hour), start.Add(time.Hour))
	if err != nil {
		t.Fatalf("FindDeviceEpisodes failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no matches for unknown device, got %d", len(none))
	}
}

func TestDeleteObservationsByItem(t *testing.T) {
	userID := testUser(t)
	itemID := uuid.NewString()
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	obs := upsertTestContext(t, models.MemoryContext{
		UserID:        userID,
		ContextType:   models.ContextActivity,
		Title:         "Lunch",
		SourceItemIDs: []string{itemID},
		StartTime:     start,
		EndTime:       start,
	})

	ids, err := testDB.DeleteObservationsByItem(context.Background(), userID, itemID)
	if err != nil {
		t.Fatalf("DeleteObservationsByItem failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != models.MustRecordIDString(obs.ID) {
		t.Errorf("Expected deleted id %v, got %v", obs.ID, ids)
	}

	left, err := testDB.GetObservationsByItem(context.Background(), userID, itemID)
	if err != nil {
		t.Fatalf("GetObservationsByItem failed: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("Expected no observations left, got %d", len(left))
	}
}

func TestSearchContexts(t *testing.T) {
	ctx := context.Background()
	userID := testUser(t)
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	coffee := upsertTestContext(t, models.MemoryContext{
		UserID:      userID,
		ContextType: models.ContextActivity,
		IsEpisode:   true,
		EpisodeID:   ptr(uuid.NewString()),
		Title:       "Coffee with Sam",
		StartTime:   start,
		EndTime:     start.Add(10 * time.Minute),
	})
	hike := upsertTestContext(t, models.MemoryContext{
		UserID:      userID,
		ContextType: models.ContextActivity,
		IsEpisode:   true,
		EpisodeID:   ptr(uuid.NewString()),
		Title:       "Mountain hike",
		StartTime:   start.Add(3 * time.Hour),
		EndTime:     start.Add(5 * time.Hour),
	})

	if err := testDB.SetContextEmbedding(ctx, models.MustRecordIDString(coffee.ID), dummyEmbedding(0)); err != nil {
		t.Fatalf("SetContextEmbedding failed: %v", err)
	}
	if err := testDB.SetContextEmbedding(ctx, models.MustRecordIDString(hike.ID), dummyEmbedding(100)); err != nil {
		t.Fatalf("SetContextEmbedding failed: %v", err)
	}

	matches, err := testDB.SearchContexts(ctx, ContextSearchParams{
		UserID:       userID,
		Embedding:    dummyEmbedding(0),
		Limit:        5,
		ContextType:  models.ContextActivity,
		EpisodesOnly: true,
	})
	if err != nil {
		t.Fatalf("SearchContexts failed: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("Expected at least one match")
	}
	if models.MustRecordIDString(matches[0].ID) != models.MustRecordIDString(coffee.ID) {
		t.Errorf("Expected closest match %v, got %v", coffee.ID, matches[0].ID)
	}
	if matches[0].Score <= 0.9 {
		t.Errorf("Expected near-perfect similarity, got %f", matches[0].Score)
	}
	if matches[0].EpisodeID == nil {
		t.Error("Expected episode id on match")
	}

	// Other users see nothing.
	foreign, err := testDB.SearchContexts(ctx, ContextSearchParams{
		UserID:    testUser(t),
		Embedding: dummyEmbedding(0),
		Limit:     5,
	})
	if err != nil {
		t.Fatalf("SearchContexts failed: %v", err)
	}
	if len(foreign) != 0 {
		t.Errorf("Expected no matches for other user, got %d", len(foreign))
	}
}

func ptr[T any](v T) *T { return &v }

// =============================================================================
// TASK TESTS
// =============================================================================

func TestTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	name := "test_lifecycle_" + uuid.NewString()[:8]

	task, err := testDB.CreateTask(ctx, name, map[string]any{"item_id": "abc"}, 3)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.Status != models.TaskStatusPending {
		t.Errorf("Expected pending, got %q", task.Status)
	}
	if task.Attempts != 0 {
		t.Errorf("Expected 0 attempts, got %d", task.Attempts)
	}

	claimed, err := testDB.ClaimNextTask(ctx, []string{name}, time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextTask failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("Expected a claim")
	}
	if claimed.Status != models.TaskStatusRunning {
		t.Errorf("Expected running, got %q", claimed.Status)
	}
	if claimed.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", claimed.Attempts)
	}
	if claimed.LeaseUntil == nil {
		t.Error("Expected lease to be set")
	}

	// Nothing else to claim under this name.
	second, err := testDB.ClaimNextTask(ctx, []string{name}, time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextTask failed: %v", err)
	}
	if second != nil {
		t.Error("Expected empty claim while task is running")
	}

	if err := testDB.CompleteTask(ctx, models.MustRecordIDString(claimed.ID)); err != nil {
		t.Fatalf("CompleteTask failed: %v", err)
	}
	done, err := testDB.GetTask(ctx, models.MustRecordIDString(claimed.ID))
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if done.Status != models.TaskStatusCompleted {
		t.Errorf("Expected completed, got %q", done.Status)
	}
	if done.LeaseUntil != nil {
		t.Error("Expected lease released")
	}
}

func TestClaimOldestFirst(t *testing.T) {
	ctx := context.Background()
	name := "test_order_" + uuid.NewString()[:8]

	first, err := testDB.CreateTask(ctx, name, nil, 3)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if _, err := testDB.CreateTask(ctx, name, nil, 3); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	claimed, err := testDB.ClaimNextTask(ctx, []string{name}, time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextTask failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("Expected a claim")
	}
	if models.MustRecordIDString(claimed.ID) != models.MustRecordIDString(first.ID) {
		t.Errorf("Expected oldest task %v, got %v", first.ID, claimed.ID)
	}
}

func TestFailTaskRetry(t *testing.T) {
	ctx := context.Background()
	name := "test_retry_" + uuid.NewString()[:8]

	if _, err := testDB.CreateTask(ctx, name, nil, 3); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	claimed, err := testDB.ClaimNextTask(ctx, []string{name}, time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextTask failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("Expected a claim")
	}
	id := models.MustRecordIDString(claimed.ID)

	// Non-final failure requeues.
	if err := testDB.FailTask(ctx, id, "provider timeout", false); err != nil {
		t.Fatalf("FailTask failed: %v", err)
	}
	again, err := testDB.ClaimNextTask(ctx, []string{name}, time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextTask failed: %v", err)
	}
	if again == nil {
		t.Fatal("Expected task to be claimable after non-final failure")
	}
	if again.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", again.Attempts)
	}

	// Final failure sticks and retains the message.
	if err := testDB.FailTask(ctx, id, "provider timeout", true); err != nil {
		t.Fatalf("FailTask failed: %v", err)
	}
	failed, err := testDB.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if failed.Status != models.TaskStatusFailed {
		t.Errorf("Expected failed, got %q", failed.Status)
	}
	if failed.Error == nil || *failed.Error != "provider timeout" {
		t.Errorf("Expected error retained, got %v", failed.Error)
	}
}

func TestRequeueExpired(t *testing.T) {
	ctx := context.Background()
	name := "test_requeue_" + uuid.NewString()[:8]

	if _, err := testDB.CreateTask(ctx, name, nil, 3); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	// Claim with an already-lapsed lease.
	claimed, err := testDB.ClaimNextTask(ctx, []string{name}, -time.Second)
	if err != nil {
		t.Fatalf("ClaimNextTask failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("Expected a claim")
	}

	count, err := testDB.RequeueExpired(ctx)
	if err != nil {
		t.Fatalf("RequeueExpired failed: %v", err)
	}
	if count < 1 {
		t.Errorf("Expected at least 1 requeued task, got %d", count)
	}

	got, err := testDB.GetTask(ctx, models.MustRecordIDString(claimed.ID))
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != models.TaskStatusPending {
		t.Errorf("Expected pending after requeue, got %q", got.Status)
	}
}

func TestClaimNameFilter(t *testing.T) {
	ctx := context.Background()
	name := "test_filter_" + uuid.NewString()[:8]

	if _, err := testDB.CreateTask(ctx, name, nil, 3); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	other, err := testDB.ClaimNextTask(ctx, []string{"some_other_name"}, time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextTask failed: %v", err)
	}
	if other != nil {
		t.Error("Expected no claim for non-matching name")
	}

	match, err := testDB.ClaimNextTask(ctx, []string{name, "some_other_name"}, time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextTask failed: %v", err)
	}
	if match == nil {
		t.Error("Expected claim when name is included")
	}
}

// =============================================================================
// STATS TESTS
// =============================================================================

func TestGetStats(t *testing.T) {
	ctx := context.Background()
	createTestItem(t, testUser(t))

	stats, err := testDB.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats == nil {
		t.Fatal("Expected stats")
	}

	total := 0
	for _, sc := range stats.ItemsByStatus {
		total += sc.Count
	}
	if total < 1 {
		t.Errorf("Expected at least 1 item counted, got %d", total)
	}
}
