package persistence

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// Helper to create a fresh store backed by a temp-dir database.
func createTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createTestProject(t *testing.T, store *Store) *Project {
	t.Helper()

	project := &Project{Name: "test project", Description: "fixture"}
	if err := store.CreateProject(project); err != nil {
		t.Fatalf("Failed to create project: %v", err)
	}
	return project
}

func TestStageRecordOperations(t *testing.T) {
	t.Run("CreateAndFetch", func(t *testing.T) {
		store := createTestStore(t)
		project := createTestProject(t, store)

		rec, err := store.CreateStageRecord(&StageRecord{
			ProjectID: project.ID,
			Stage:     StageRequirements,
			Content:   "raw requirements input",
		})
		if err != nil {
			t.Fatalf("Failed to create stage record: %v", err)
		}
		if rec.InternalID == 0 {
			t.Error("Expected non-zero internal id")
		}
		if rec.Status != StatusCreated {
			t.Errorf("Expected status %q, got %q", StatusCreated, rec.Status)
		}
		if rec.Version != 1 {
			t.Errorf("Expected version 1, got %d", rec.Version)
		}

		byExternal, err := store.GetStageByExternalID(rec.ExternalID)
		if err != nil {
			t.Fatalf("Failed to fetch by external id: %v", err)
		}
		if byExternal.InternalID != rec.InternalID {
			t.Errorf("Expected internal id %d, got %d", rec.InternalID, byExternal.InternalID)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		store := createTestStore(t)

		_, err := store.GetStageByExternalID("requirements-does-not-exist")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("OptimisticVersioning", func(t *testing.T) {
		store := createTestStore(t)
		project := createTestProject(t, store)

		rec, err := store.CreateStageRecord(&StageRecord{
			ProjectID: project.ID,
			Stage:     StagePlanning,
		})
		if err != nil {
			t.Fatalf("Failed to create stage record: %v", err)
		}

		if err := store.UpdateStageStatus(rec.InternalID, rec.Version, StatusProcessing); err != nil {
			t.Fatalf("First update failed: %v", err)
		}

		// Re-using the stale version must fail.
		err = store.UpdateStageStatus(rec.InternalID, rec.Version, StatusGenerating)
		if !errors.Is(err, ErrVersionConflict) {
			t.Errorf("Expected ErrVersionConflict, got %v", err)
		}

		updated, err := store.GetStageByInternalID(rec.InternalID)
		if err != nil {
			t.Fatalf("Failed to fetch updated record: %v", err)
		}
		if updated.Status != StatusProcessing {
			t.Errorf("Expected status %q, got %q", StatusProcessing, updated.Status)
		}
		if updated.Version != rec.Version+1 {
			t.Errorf("Expected version %d, got %d", rec.Version+1, updated.Version)
		}
	})

	t.Run("UpdateMissingRecord", func(t *testing.T) {
		store := createTestStore(t)

		err := store.UpdateStageStatus(9999, 1, StatusFailed)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PrerequisiteLink", func(t *testing.T) {
		store := createTestStore(t)
		project := createTestProject(t, store)

		requirements, err := store.CreateStageRecord(&StageRecord{
			ProjectID: project.ID,
			Stage:     StageRequirements,
			Status:    StatusApproved,
		})
		if err != nil {
			t.Fatalf("Failed to create requirements record: %v", err)
		}

		planning, err := store.CreateStageRecord(&StageRecord{
			ProjectID:      project.ID,
			Stage:          StagePlanning,
			PrerequisiteID: requirements.InternalID,
		})
		if err != nil {
			t.Fatalf("Failed to create planning record: %v", err)
		}
		if planning.PrerequisiteID != requirements.InternalID {
			t.Errorf("Expected prerequisite %d, got %d", requirements.InternalID, planning.PrerequisiteID)
		}
	})

	t.Run("LatestStageForProject", func(t *testing.T) {
		store := createTestStore(t)
		project := createTestProject(t, store)

		for i := 0; i < 3; i++ {
			if _, err := store.CreateStageRecord(&StageRecord{
				ProjectID: project.ID,
				Stage:     StageCode,
			}); err != nil {
				t.Fatalf("Failed to create record %d: %v", i, err)
			}
		}

		latest, err := store.GetLatestStageForProject(project.ID, StageCode)
		if err != nil {
			t.Fatalf("Failed to get latest stage: %v", err)
		}
		all, err := store.ListStagesForProject(project.ID)
		if err != nil {
			t.Fatalf("Failed to list stages: %v", err)
		}
		if latest.InternalID != all[len(all)-1].InternalID {
			t.Errorf("Expected latest to be the last inserted record")
		}
	})
}

func TestReviewOperations(t *testing.T) {
	newPendingReview := func(t *testing.T, store *Store) *Review {
		t.Helper()
		review := &Review{
			ServiceName:   "requirements-service",
			PipelineStage: "Requirements",
			Content:       "analyzed requirements",
			CorrelationID: "corr-1",
			Metadata:      map[string]string{MetadataStageKey: "1"},
		}
		if err := store.InsertReview(review); err != nil {
			t.Fatalf("Failed to insert review: %v", err)
		}
		return review
	}

	t.Run("InsertAndGet", func(t *testing.T) {
		store := createTestStore(t)
		review := newPendingReview(t, store)

		fetched, err := store.GetReview(review.ID)
		if err != nil {
			t.Fatalf("Failed to get review: %v", err)
		}
		if fetched.Status != ReviewStatusPending {
			t.Errorf("Expected status %q, got %q", ReviewStatusPending, fetched.Status)
		}
		if fetched.Metadata[MetadataStageKey] != "1" {
			t.Errorf("Expected metadata stage key to round-trip, got %v", fetched.Metadata)
		}
		if fetched.ReviewedAt != nil {
			t.Error("Expected nil reviewed_at for pending review")
		}
	})

	t.Run("ExactlyOneTerminalDecision", func(t *testing.T) {
		store := createTestStore(t)
		review := newPendingReview(t, store)

		if err := store.DecideReview(review.ID, ReviewStatusApproved, "looks good", "", ""); err != nil {
			t.Fatalf("First decision failed: %v", err)
		}

		err := store.DecideReview(review.ID, ReviewStatusRejected, "changed my mind", "", "")
		if !errors.Is(err, ErrAlreadyDecided) {
			t.Errorf("Expected ErrAlreadyDecided, got %v", err)
		}

		fetched, err := store.GetReview(review.ID)
		if err != nil {
			t.Fatalf("Failed to get review: %v", err)
		}
		if fetched.Status != ReviewStatusApproved {
			t.Errorf("Expected status to stay %q, got %q", ReviewStatusApproved, fetched.Status)
		}
		if fetched.ReviewedAt == nil {
			t.Error("Expected reviewed_at to be set")
		}
	})

	t.Run("DecideMissingReview", func(t *testing.T) {
		store := createTestStore(t)

		err := store.DecideReview("review-missing", ReviewStatusApproved, "", "", "")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PendingListAndCount", func(t *testing.T) {
		store := createTestStore(t)
		first := newPendingReview(t, store)
		second := newPendingReview(t, store)

		if err := store.DecideReview(first.ID, ReviewStatusRejected, "incomplete", "add detail", ""); err != nil {
			t.Fatalf("Failed to reject review: %v", err)
		}

		pending, err := store.ListPendingReviews()
		if err != nil {
			t.Fatalf("Failed to list pending reviews: %v", err)
		}
		if len(pending) != 1 || pending[0].ID != second.ID {
			t.Errorf("Expected only review %s pending, got %d reviews", second.ID, len(pending))
		}

		count, err := store.CountPendingReviews()
		if err != nil {
			t.Fatalf("Failed to count pending reviews: %v", err)
		}
		if count != 1 {
			t.Errorf("Expected 1 pending review, got %d", count)
		}
	})

	t.Run("ExpirePendingBefore", func(t *testing.T) {
		store := createTestStore(t)
		review := newPendingReview(t, store)

		// A cutoff in the future expires everything pending now.
		expired, err := store.ExpirePendingBefore(time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("Failed to expire reviews: %v", err)
		}
		if len(expired) != 1 || expired[0].ID != review.ID {
			t.Fatalf("Expected review %s expired, got %d reviews", review.ID, len(expired))
		}

		fetched, err := store.GetReview(review.ID)
		if err != nil {
			t.Fatalf("Failed to get review: %v", err)
		}
		if fetched.Status != ReviewStatusExpired {
			t.Errorf("Expected status %q, got %q", ReviewStatusExpired, fetched.Status)
		}

		// A cutoff in the past expires nothing.
		fresh := newPendingReview(t, store)
		expired, err = store.ExpirePendingBefore(time.Now().Add(-time.Hour))
		if err != nil {
			t.Fatalf("Failed to expire reviews: %v", err)
		}
		if len(expired) != 0 {
			t.Errorf("Expected no reviews expired, got %d", len(expired))
		}
		fetched, err = store.GetReview(fresh.ID)
		if err != nil {
			t.Fatalf("Failed to get review: %v", err)
		}
		if fetched.Status != ReviewStatusPending {
			t.Errorf("Expected fresh review to stay pending, got %q", fetched.Status)
		}
	})
}

func TestUserStoryOperations(t *testing.T) {
	createStageForStories := func(t *testing.T, store *Store) *StageRecord {
		t.Helper()
		project := createTestProject(t, store)
		rec, err := store.CreateStageRecord(&StageRecord{
			ProjectID: project.ID,
			Stage:     StageStories,
		})
		if err != nil {
			t.Fatalf("Failed to create stage record: %v", err)
		}
		return rec
	}

	t.Run("BatchInsertAndList", func(t *testing.T) {
		store := createTestStore(t)
		rec := createStageForStories(t, store)

		stories := []*UserStory{
			{
				StageInternalID:    rec.InternalID,
				Title:              "User login",
				Description:        "As a user I want to log in",
				AcceptanceCriteria: []string{"valid credentials succeed", "invalid credentials fail"},
				Priority:           2,
			},
			{
				StageInternalID:    rec.InternalID,
				Title:              "Password reset",
				Description:        "As a user I want to reset my password",
				AcceptanceCriteria: []string{"reset email sent"},
				Priority:           1,
			},
		}
		if err := store.InsertUserStories(stories); err != nil {
			t.Fatalf("Failed to insert stories: %v", err)
		}

		listed, err := store.ListUserStoriesForStage(rec.InternalID)
		if err != nil {
			t.Fatalf("Failed to list stories: %v", err)
		}
		if len(listed) != 2 {
			t.Fatalf("Expected 2 stories, got %d", len(listed))
		}
		// Priority ordering: highest first.
		if listed[0].Title != "User login" {
			t.Errorf("Expected highest-priority story first, got %q", listed[0].Title)
		}
		if len(listed[0].AcceptanceCriteria) != 2 {
			t.Errorf("Expected acceptance criteria to round-trip, got %v", listed[0].AcceptanceCriteria)
		}
	})

	t.Run("UpdateWithVersioning", func(t *testing.T) {
		store := createTestStore(t)
		rec := createStageForStories(t, store)

		stories := []*UserStory{{
			StageInternalID:    rec.InternalID,
			Title:              "Original title",
			Description:        "desc",
			AcceptanceCriteria: []string{"one"},
		}}
		if err := store.InsertUserStories(stories); err != nil {
			t.Fatalf("Failed to insert story: %v", err)
		}

		story, err := store.GetUserStory(stories[0].ID)
		if err != nil {
			t.Fatalf("Failed to get story: %v", err)
		}

		story.Title = "Updated title"
		story.Status = StoryStatusApproved
		if err := store.UpdateUserStory(story); err != nil {
			t.Fatalf("Failed to update story: %v", err)
		}

		stale := &UserStory{
			ID:                 story.ID,
			Title:              "Stale write",
			Description:        "desc",
			AcceptanceCriteria: []string{"one"},
			Status:             StoryStatusDraft,
			Version:            1, // already bumped to 2
		}
		err = store.UpdateUserStory(stale)
		if !errors.Is(err, ErrVersionConflict) {
			t.Errorf("Expected ErrVersionConflict, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		store := createTestStore(t)
		rec := createStageForStories(t, store)

		stories := []*UserStory{{
			StageInternalID: rec.InternalID,
			Title:           "To delete",
			Description:     "desc",
		}}
		if err := store.InsertUserStories(stories); err != nil {
			t.Fatalf("Failed to insert story: %v", err)
		}
		if err := store.DeleteUserStory(stories[0].ID); err != nil {
			t.Fatalf("Failed to delete story: %v", err)
		}
		if err := store.DeleteUserStory(stories[0].ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound on double delete, got %v", err)
		}
	})
}

func TestProjectCascadeDelete(t *testing.T) {
	store := createTestStore(t)
	project := createTestProject(t, store)

	rec, err := store.CreateStageRecord(&StageRecord{
		ProjectID: project.ID,
		Stage:     StageStories,
	})
	if err != nil {
		t.Fatalf("Failed to create stage record: %v", err)
	}

	review := &Review{
		ServiceName:   "stories-service",
		PipelineStage: "Stories",
		Content:       "generated stories",
	}
	if err := store.InsertReview(review); err != nil {
		t.Fatalf("Failed to insert review: %v", err)
	}
	if err := store.SetStageReviewID(rec.InternalID, rec.Version, review.ID, StatusPendingReview); err != nil {
		t.Fatalf("Failed to link review: %v", err)
	}

	if err := store.InsertUserStories([]*UserStory{{
		StageInternalID: rec.InternalID,
		Title:           "Story",
		Description:     "desc",
	}}); err != nil {
		t.Fatalf("Failed to insert story: %v", err)
	}

	if err := store.DeleteProjectCascade(project.ID); err != nil {
		t.Fatalf("Failed to cascade delete: %v", err)
	}

	if _, err := store.GetProject(project.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected project gone, got %v", err)
	}
	if _, err := store.GetStageByInternalID(rec.InternalID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected stage record gone, got %v", err)
	}
	if _, err := store.GetReview(review.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected review gone, got %v", err)
	}

	// Deleting again reports not found.
	if err := store.DeleteProjectCascade(project.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestProjectCascadeDeleteLeavesOtherProjectsAlone(t *testing.T) {
	store := createTestStore(t)
	doomed := createTestProject(t, store)
	survivor := &Project{Name: "survivor"}
	if err := store.CreateProject(survivor); err != nil {
		t.Fatalf("Failed to create project: %v", err)
	}

	link := func(projectID string) (*StageRecord, *Review) {
		t.Helper()
		rec, err := store.CreateStageRecord(&StageRecord{ProjectID: projectID, Stage: StageRequirements})
		if err != nil {
			t.Fatalf("Failed to create stage record: %v", err)
		}
		review := &Review{ServiceName: "requirements-service", PipelineStage: "Requirements", Content: "out"}
		if err := store.InsertReview(review); err != nil {
			t.Fatalf("Failed to insert review: %v", err)
		}
		if err := store.SetStageReviewID(rec.InternalID, rec.Version, review.ID, StatusPendingReview); err != nil {
			t.Fatalf("Failed to link review: %v", err)
		}
		return rec, review
	}
	_, doomedReview := link(doomed.ID)
	survivorRec, survivorReview := link(survivor.ID)

	if err := store.DeleteProjectCascade(doomed.ID); err != nil {
		t.Fatalf("Failed to cascade delete: %v", err)
	}

	if _, err := store.GetReview(doomedReview.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected doomed review gone, got %v", err)
	}
	if _, err := store.GetReview(survivorReview.ID); err != nil {
		t.Errorf("Survivor review should remain: %v", err)
	}
	if _, err := store.GetStageByInternalID(survivorRec.InternalID); err != nil {
		t.Errorf("Survivor stage record should remain: %v", err)
	}
	if _, err := store.GetProject(survivor.ID); err != nil {
		t.Errorf("Survivor project should remain: %v", err)
	}
}

func TestDashboardRows(t *testing.T) {
	store := createTestStore(t)
	project := createTestProject(t, store)

	rec, err := store.CreateStageRecord(&StageRecord{
		ProjectID: project.ID,
		Stage:     StageRequirements,
	})
	if err != nil {
		t.Fatalf("Failed to create stage record: %v", err)
	}

	review := &Review{
		ServiceName:   "requirements-service",
		PipelineStage: "Requirements",
		Content:       "content",
	}
	if err := store.InsertReview(review); err != nil {
		t.Fatalf("Failed to insert review: %v", err)
	}
	if err := store.SetStageReviewID(rec.InternalID, rec.Version, review.ID, StatusPendingReview); err != nil {
		t.Fatalf("Failed to link review: %v", err)
	}

	rows, err := store.DashboardRows()
	if err != nil {
		t.Fatalf("Failed to fetch dashboard rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 dashboard row, got %d", len(rows))
	}
	row := rows[0]
	if row.StageStatus != StatusPendingReview {
		t.Errorf("Expected stage status %q, got %q", StatusPendingReview, row.StageStatus)
	}
	if row.ReviewStatus != ReviewStatusPending {
		t.Errorf("Expected review status %q, got %q", ReviewStatusPending, row.ReviewStatus)
	}
	if row.ProjectName != project.Name {
		t.Errorf("Expected project name %q, got %q", project.Name, row.ProjectName)
	}
}

func TestSchemaVersion(t *testing.T) {
	store := createTestStore(t)

	version, err := getSchemaVersion(store.DB())
	if err != nil {
		t.Fatalf("Failed to get schema version: %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", CurrentSchemaVersion, version)
	}
}
