package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/moin0420/hybrid-app/internal/entities"
	"github.com/moin0420/hybrid-app/internal/events"
	"github.com/moin0420/hybrid-app/internal/repositories"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

func newTestRepository(t *testing.T) *repositories.Requirements {
	dbCtx, err := repositories.NewDbContext(":memory:")
	require.NoError(t, err)
	require.NoError(t, dbCtx.Migrate())
	t.Cleanup(func() { _ = dbCtx.Close() })
	return repositories.NewRequirementsRepository(dbCtx.DB)
}

func newTestCoordinator(t *testing.T) (*ClaimCoordinator, *repositories.Requirements, EventBus.Bus) {
	repo := newTestRepository(t)
	bus := EventBus.New()
	coordinator, err := NewClaimCoordinator(repo, bus)
	require.NoError(t, err)
	return coordinator, repo, bus
}

// seed stores rows as given, bypassing the claim rules.
func seed(t *testing.T, repo *repositories.Requirements, rows ...entities.Requirement) []entities.Requirement {
	for i := range rows {
		if rows[i].Status == "" {
			rows[i].Status = entities.StatusOpen
		}
		require.NoError(t, repo.Add(context.Background(), &rows[i]))
	}
	return rows
}

func openRow(title string) entities.Requirement {
	return entities.NewRequirement("Acme", "REQ-"+title, title)
}

func claimedRow(title, recruiter string) entities.Requirement {
	row := openRow(title)
	row.Working = entities.WorkingYes
	row.AssignedRecruiter = recruiter
	return row
}

func mustGet(t *testing.T, repo *repositories.Requirements, id int) entities.Requirement {
	row, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, row)
	return *row
}

// assertClaimInvariants checks the whole table: one claim per recruiter, a
// claim always has a recruiter, and rows that can't be worked on are unclaimed.
func assertClaimInvariants(t *testing.T, repo *repositories.Requirements) {
	rows, err := repo.GetAll(context.Background())
	require.NoError(t, err)

	holders := map[string]int{}
	for _, row := range rows {
		assert.Equal(t, row.Working == entities.WorkingYes, row.AssignedRecruiter != "",
			"row %d: working=%q assigned=%q", row.ID, row.Working, row.AssignedRecruiter)
		if !row.IsWorkable() {
			assert.Empty(t, row.Working, "row %d is not workable", row.ID)
			assert.Empty(t, row.AssignedRecruiter, "row %d is not workable", row.ID)
		}
		if row.IsClaimed() {
			if other, ok := holders[row.AssignedRecruiter]; ok {
				t.Errorf("recruiter %q holds rows %d and %d", row.AssignedRecruiter, other, row.ID)
			}
			holders[row.AssignedRecruiter] = row.ID
		}
	}
}

type recordedEvents struct {
	mu       sync.Mutex
	acquired []events.ClaimAcquired
	released []events.ClaimReleased
	rejected []events.ClaimRejected
}

func recordEvents(t *testing.T, bus EventBus.Bus) *recordedEvents {
	r := &recordedEvents{}
	require.NoError(t, bus.Subscribe(events.ClaimAcquiredTopic, func(e events.ClaimAcquired) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.acquired = append(r.acquired, e)
	}))
	require.NoError(t, bus.Subscribe(events.ClaimReleasedTopic, func(e events.ClaimReleased) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.released = append(r.released, e)
	}))
	require.NoError(t, bus.Subscribe(events.ClaimRejectedTopic, func(e events.ClaimRejected) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.rejected = append(r.rejected, e)
	}))
	return r
}

func Test_NewClaimCoordinator_RequiresDependencies(t *testing.T) {
	_, err := NewClaimCoordinator(nil, EventBus.New())
	assert.Error(t, err)

	_, err = NewClaimCoordinator(newTestRepository(t), nil)
	assert.Error(t, err)
}

func Test_ProposeUpdate_ClaimFreeRow(t *testing.T) {
	coordinator, repo, bus := newTestCoordinator(t)
	recorded := recordEvents(t, bus)
	rows := seed(t, repo, openRow("Go developer"))

	updated, err := coordinator.ProposeUpdate(context.Background(), rows[0].ID,
		entities.RequirementPatch{Working: ptr("yes")}, "alice")

	require.NoError(t, err)
	assert.Equal(t, entities.WorkingYes, updated.Working)
	assert.Equal(t, "alice", updated.AssignedRecruiter)

	stored := mustGet(t, repo, rows[0].ID)
	assert.True(t, stored.IsClaimedBy("alice"))

	require.Len(t, recorded.acquired, 1)
	assert.Equal(t, events.ClaimAcquired{RequirementID: rows[0].ID, Recruiter: "alice"}, recorded.acquired[0])
	assert.Empty(t, recorded.released)
}

func Test_ProposeUpdate_SecondClaimBySameRecruiter_IsRejected(t *testing.T) {
	coordinator, repo, bus := newTestCoordinator(t)
	recorded := recordEvents(t, bus)
	rows := seed(t, repo, openRow("Go developer"), openRow("SRE"))
	ctx := context.Background()

	_, err := coordinator.ProposeUpdate(ctx, rows[0].ID, entities.RequirementPatch{Working: ptr("yes")}, "alice")
	require.NoError(t, err)

	before := mustGet(t, repo, rows[1].ID)
	updated, err := coordinator.ProposeUpdate(ctx, rows[1].ID,
		entities.RequirementPatch{Working: ptr("yes"), JobTitle: ptr("Senior SRE")}, "alice")

	assert.Nil(t, updated)
	require.ErrorIs(t, err, ErrConflict)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, rows[0].ID, conflict.HeldID)
	assert.Equal(t, "You're already working on another requisition. Please mark it free and try again.", err.Error())

	after := mustGet(t, repo, rows[1].ID)
	assert.Equal(t, before, after, "a rejected update must not touch the row")

	require.Len(t, recorded.rejected, 1)
	assert.Equal(t, events.ClaimRejected{RequirementID: rows[1].ID, Recruiter: "alice", HeldID: rows[0].ID},
		recorded.rejected[0])
}

func Test_ProposeUpdate_StatusChange_ClearsClaim(t *testing.T) {
	coordinator, repo, bus := newTestCoordinator(t)
	recorded := recordEvents(t, bus)
	rows := seed(t, repo, claimedRow("Go developer", "alice"))

	updated, err := coordinator.ProposeUpdate(context.Background(), rows[0].ID,
		entities.RequirementPatch{Status: ptr(entities.StatusClosed)}, "")

	require.NoError(t, err)
	assert.Equal(t, entities.StatusClosed, updated.Status)
	assert.Empty(t, updated.Working)
	assert.Empty(t, updated.AssignedRecruiter)

	require.Len(t, recorded.released, 1)
	assert.Equal(t, "alice", recorded.released[0].Recruiter)
	assert.Equal(t, "not workable", recorded.released[0].Reason)
}

func Test_ProposeUpdate_ZeroSlots_ClearsClaim(t *testing.T) {
	coordinator, repo, _ := newTestCoordinator(t)
	rows := seed(t, repo, claimedRow("Go developer", "alice"))

	updated, err := coordinator.ProposeUpdate(context.Background(), rows[0].ID,
		entities.RequirementPatch{Slots: ptr(0)}, "alice")

	require.NoError(t, err)
	assert.Equal(t, 0, updated.Slots)
	assert.False(t, updated.IsClaimed())
	assert.Empty(t, updated.AssignedRecruiter)
}

func Test_ProposeUpdate_DifferentRecruiters_ClaimIndependently(t *testing.T) {
	coordinator, repo, _ := newTestCoordinator(t)
	rows := seed(t, repo, claimedRow("Go developer", "alice"), openRow("SRE"))

	updated, err := coordinator.ProposeUpdate(context.Background(), rows[1].ID,
		entities.RequirementPatch{Working: ptr("yes")}, "bob")

	require.NoError(t, err)
	assert.True(t, updated.IsClaimedBy("bob"))
	assert.Equal(t, rows[0], withoutTimestamps(mustGet(t, repo, rows[0].ID), rows[0]))
	assertClaimInvariants(t, repo)
}

func withoutTimestamps(row, like entities.Requirement) entities.Requirement {
	row.CreatedAt = like.CreatedAt
	row.UpdatedAt = like.UpdatedAt
	return row
}

func Test_ProposeUpdate_NotWorkableRow_IgnoresClaim(t *testing.T) {
	tests := []struct {
		name  string
		row   entities.Requirement
		patch entities.RequirementPatch
	}{
		{
			name:  "no slots",
			row:   entities.Requirement{ClientName: "Acme", Status: entities.StatusOpen, Slots: 0},
			patch: entities.RequirementPatch{Working: ptr("yes")},
		},
		{
			name:  "on hold",
			row:   entities.Requirement{ClientName: "Acme", Status: entities.StatusOnHold, Slots: 2},
			patch: entities.RequirementPatch{Working: ptr("Yes"), AssignedRecruiter: ptr("alice")},
		},
		{
			name:  "claim and close in one request",
			row:   openRow("SRE"),
			patch: entities.RequirementPatch{Working: ptr("yes"), Status: ptr(entities.StatusFilled)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coordinator, repo, _ := newTestCoordinator(t)
			// alice already holds a claim, the gate must win before any conflict check
			rows := seed(t, repo, claimedRow("Go developer", "alice"), tt.row)

			updated, err := coordinator.ProposeUpdate(context.Background(), rows[1].ID, tt.patch, "alice")

			require.NoError(t, err)
			assert.Empty(t, updated.Working)
			assert.Empty(t, updated.AssignedRecruiter)
			assertClaimInvariants(t, repo)
		})
	}
}

func Test_ProposeUpdate_NormalizesWorking(t *testing.T) {
	for _, value := range []string{"YES", "yes", "Yes ", " yEs"} {
		t.Run(value, func(t *testing.T) {
			coordinator, repo, _ := newTestCoordinator(t)
			rows := seed(t, repo, openRow("Go developer"))

			updated, err := coordinator.ProposeUpdate(context.Background(), rows[0].ID,
				entities.RequirementPatch{Working: ptr(value)}, "alice")

			require.NoError(t, err)
			assert.Equal(t, entities.WorkingYes, updated.Working)
		})
	}
}

func Test_ProposeUpdate_ResubmittingStoredRow_IsIdempotent(t *testing.T) {
	coordinator, repo, bus := newTestCoordinator(t)
	recorded := recordEvents(t, bus)
	rows := seed(t, repo, openRow("Go developer"))
	ctx := context.Background()

	first, err := coordinator.ProposeUpdate(ctx, rows[0].ID, entities.RequirementPatch{Working: ptr("yes")}, "alice")
	require.NoError(t, err)

	full := entities.RequirementPatch{
		ClientName:        ptr(first.ClientName),
		RequirementID:     ptr(first.RequirementID),
		JobTitle:          ptr(first.JobTitle),
		Status:            ptr(first.Status),
		Slots:             ptr(first.Slots),
		AssignedRecruiter: ptr(first.AssignedRecruiter),
		Working:           ptr(first.Working),
	}
	second, err := coordinator.ProposeUpdate(ctx, rows[0].ID, full, "alice")
	require.NoError(t, err)

	assert.True(t, first.SameFields(*second))
	assert.Len(t, recorded.acquired, 1, "resubmitting a claim is not a new claim")
}

func Test_ProposeUpdate_ReleaseClaim(t *testing.T) {
	coordinator, repo, bus := newTestCoordinator(t)
	recorded := recordEvents(t, bus)
	rows := seed(t, repo, claimedRow("Go developer", "alice"), openRow("SRE"))
	ctx := context.Background()

	updated, err := coordinator.ProposeUpdate(ctx, rows[0].ID, entities.RequirementPatch{Working: ptr("")}, "alice")
	require.NoError(t, err)
	assert.Empty(t, updated.Working)
	assert.Empty(t, updated.AssignedRecruiter)

	require.Len(t, recorded.released, 1)
	assert.Equal(t, "cleared", recorded.released[0].Reason)

	// once free, alice may claim another row
	_, err = coordinator.ProposeUpdate(ctx, rows[1].ID, entities.RequirementPatch{Working: ptr("yes")}, "alice")
	assert.NoError(t, err)
}

func Test_ProposeUpdate_EditByAnotherUser_KeepsExistingClaim(t *testing.T) {
	coordinator, repo, bus := newTestCoordinator(t)
	recorded := recordEvents(t, bus)
	rows := seed(t, repo, claimedRow("Go developer", "alice"), claimedRow("SRE", "bob"))

	// bob sends the whole row back with a new title, alice stays the holder
	updated, err := coordinator.ProposeUpdate(context.Background(), rows[0].ID, entities.RequirementPatch{
		JobTitle:          ptr("Senior Go developer"),
		Working:           ptr("Yes"),
		AssignedRecruiter: ptr("alice"),
	}, "bob")

	require.NoError(t, err)
	assert.Equal(t, "Senior Go developer", updated.JobTitle)
	assert.True(t, updated.IsClaimedBy("alice"))
	assert.Empty(t, recorded.released)
	assert.Empty(t, recorded.acquired)
}

func Test_ProposeUpdate_TakeOver_ChecksNewHolder(t *testing.T) {
	coordinator, repo, bus := newTestCoordinator(t)
	recorded := recordEvents(t, bus)
	rows := seed(t, repo, claimedRow("Go developer", "alice"), openRow("SRE"))
	ctx := context.Background()

	updated, err := coordinator.ProposeUpdate(ctx, rows[0].ID,
		entities.RequirementPatch{AssignedRecruiter: ptr("bob")}, "bob")
	require.NoError(t, err)
	assert.True(t, updated.IsClaimedBy("bob"))

	require.Len(t, recorded.released, 1)
	assert.Equal(t, "taken over by bob", recorded.released[0].Reason)
	require.Len(t, recorded.acquired, 1)
	assert.Equal(t, "bob", recorded.acquired[0].Recruiter)

	_, err = coordinator.ProposeUpdate(ctx, rows[1].ID, entities.RequirementPatch{Working: ptr("yes")}, "bob")
	assert.ErrorIs(t, err, ErrConflict)
	assertClaimInvariants(t, repo)
}

func Test_ProposeUpdate_ClaimOnRowHeldBySomeoneElse_ClaimsForActingRecruiter(t *testing.T) {
	coordinator, repo, bus := newTestCoordinator(t)
	recorded := recordEvents(t, bus)
	rows := seed(t, repo, claimedRow("Go developer", "alice"))

	updated, err := coordinator.ProposeUpdate(context.Background(), rows[0].ID,
		entities.RequirementPatch{Working: ptr("yes")}, "bob")

	require.NoError(t, err)
	assert.True(t, updated.IsClaimedBy("bob"))
	assert.True(t, mustGet(t, repo, rows[0].ID).IsClaimedBy("bob"))
	require.Len(t, recorded.acquired, 1)
	assert.Equal(t, "bob", recorded.acquired[0].Recruiter)
	require.Len(t, recorded.released, 1)
	assert.Equal(t, "alice", recorded.released[0].Recruiter)
}

func Test_ProposeUpdate_ClaimOnRowHeldBySomeoneElse_ChecksActingRecruiter(t *testing.T) {
	coordinator, repo, _ := newTestCoordinator(t)
	rows := seed(t, repo, claimedRow("Go developer", "alice"), claimedRow("SRE", "bob"))
	before := mustGet(t, repo, rows[0].ID)

	_, err := coordinator.ProposeUpdate(context.Background(), rows[0].ID,
		entities.RequirementPatch{Working: ptr("yes")}, "bob")

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "bob", conflict.Recruiter)
	assert.Equal(t, rows[1].ID, conflict.HeldID)
	assert.Equal(t, before, mustGet(t, repo, rows[0].ID))
	assertClaimInvariants(t, repo)
}

func Test_ProposeUpdate_StaleClaimOnClosedRow_BlocksNewClaim(t *testing.T) {
	coordinator, repo, _ := newTestCoordinator(t)
	stale := claimedRow("Closed role", "alice")
	stale.Status = entities.StatusClosed
	rows := seed(t, repo, stale, openRow("SRE"))
	before := mustGet(t, repo, rows[1].ID)

	_, err := coordinator.ProposeUpdate(context.Background(), rows[1].ID,
		entities.RequirementPatch{Working: ptr("yes")}, "alice")

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, rows[0].ID, conflict.HeldID)
	assert.Equal(t, before, mustGet(t, repo, rows[1].ID))

	all, err := repo.GetAll(context.Background())
	require.NoError(t, err)
	claims := 0
	for _, row := range all {
		if row.IsClaimedBy("alice") {
			claims++
		}
	}
	assert.Equal(t, 1, claims)
}

func Test_Reconcile_StaleClaimOnClosedRow_DoesNotOutrankWorkableClaim(t *testing.T) {
	coordinator, repo, _ := newTestCoordinator(t)
	stale := claimedRow("Closed role", "alice")
	stale.Status = entities.StatusClosed
	rows := seed(t, repo, stale, claimedRow("SRE", "alice"), claimedRow("Platform", "alice"))
	ctx := context.Background()

	// the duplicate is reconciled before the stale row is cleared
	changed, err := coordinator.Reconcile(ctx, rows[2].ID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = coordinator.Reconcile(ctx, rows[1].ID)
	require.NoError(t, err)
	assert.False(t, changed)
	_, err = coordinator.Reconcile(ctx, rows[0].ID)
	require.NoError(t, err)

	assert.True(t, mustGet(t, repo, rows[1].ID).IsClaimedBy("alice"))
	assertClaimInvariants(t, repo)
}

func Test_ProposeUpdate_WithoutHeader_UsesAssignedRecruiter(t *testing.T) {
	coordinator, repo, _ := newTestCoordinator(t)
	rows := seed(t, repo, openRow("Go developer"))

	updated, err := coordinator.ProposeUpdate(context.Background(), rows[0].ID,
		entities.RequirementPatch{Working: ptr("yes"), AssignedRecruiter: ptr("  carol ")}, "")

	require.NoError(t, err)
	assert.True(t, updated.IsClaimedBy("carol"))
}

func Test_ProposeUpdate_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		patch  entities.RequirementPatch
		acting string
	}{
		{name: "empty patch", patch: entities.RequirementPatch{}},
		{name: "unknown status", patch: entities.RequirementPatch{Status: ptr(entities.Status("Paused"))}},
		{name: "negative slots", patch: entities.RequirementPatch{Slots: ptr(-1)}},
		{name: "claim without recruiter", patch: entities.RequirementPatch{Working: ptr("yes")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coordinator, repo, _ := newTestCoordinator(t)
			rows := seed(t, repo, openRow("Go developer"))
			before := mustGet(t, repo, rows[0].ID)

			_, err := coordinator.ProposeUpdate(context.Background(), rows[0].ID, tt.patch, tt.acting)

			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Equal(t, before, mustGet(t, repo, rows[0].ID))
		})
	}
}

func Test_ProposeUpdate_UnknownRow_ReturnsNotFound(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t)

	_, err := coordinator.ProposeUpdate(context.Background(), 404,
		entities.RequirementPatch{Working: ptr("yes")}, "alice")

	assert.ErrorIs(t, err, ErrNotFound)
}

type failingUpdates struct {
	*repositories.Requirements
}

func (f failingUpdates) Update(ctx context.Context, requirement entities.Requirement) error {
	return errors.New("disk I/O error")
}

func Test_ProposeUpdate_StoreFailure_ReturnsStoreUnavailable(t *testing.T) {
	repo := newTestRepository(t)
	rows := seed(t, repo, openRow("Go developer"))
	coordinator, err := NewClaimCoordinator(failingUpdates{repo}, EventBus.New())
	require.NoError(t, err)

	_, err = coordinator.ProposeUpdate(context.Background(), rows[0].ID,
		entities.RequirementPatch{Working: ptr("yes")}, "alice")

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, errors.Is(err, ErrConflict))
	assert.False(t, mustGet(t, repo, rows[0].ID).IsClaimed())
}

func Test_ProposeUpdate_ConcurrentClaimsBySameRecruiter_OnlyOneWins(t *testing.T) {
	coordinator, repo, _ := newTestCoordinator(t)

	const workers = 20
	rows := make([]entities.Requirement, workers)
	for i := range rows {
		rows[i] = openRow(fmt.Sprintf("role %d", i))
	}
	rows = seed(t, repo, rows...)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		accepted  int
		conflicts int
	)
	start := make(chan struct{})
	for _, row := range rows {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			<-start
			_, err := coordinator.ProposeUpdate(context.Background(), id,
				entities.RequirementPatch{Working: ptr("yes")}, "alice")

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(row.ID)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, workers-1, conflicts)
	assertClaimInvariants(t, repo)
}

// memoryStore has no transactions at all and widens the window between the
// conflict query and the write, so only the recruiter lock keeps claims apart.
type memoryStore struct {
	mu         sync.Mutex
	rows       map[int]entities.Requirement
	nextID     int
	claimDelay time.Duration
}

func newMemoryStore(claimDelay time.Duration) *memoryStore {
	return &memoryStore{rows: map[int]entities.Requirement{}, claimDelay: claimDelay}
}

func (m *memoryStore) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *memoryStore) GetAll(ctx context.Context) ([]entities.Requirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]entities.Requirement, 0, len(m.rows))
	for id := 1; id <= m.nextID; id++ {
		if row, ok := m.rows[id]; ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (m *memoryStore) GetByID(ctx context.Context, id int) (*entities.Requirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *memoryStore) Add(ctx context.Context, requirement *entities.Requirement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	requirement.ID = m.nextID
	m.rows[requirement.ID] = *requirement
	return nil
}

func (m *memoryStore) Update(ctx context.Context, requirement entities.Requirement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[requirement.ID]; !ok {
		return repositories.ErrRequirementNotFound
	}
	m.rows[requirement.ID] = requirement
	return nil
}

func (m *memoryStore) FindActiveClaim(ctx context.Context, recruiter string, excludeID int) (*entities.Requirement, error) {
	m.mu.Lock()
	var held *entities.Requirement
	for id, row := range m.rows {
		if id != excludeID && row.IsClaimedBy(recruiter) {
			row := row
			held = &row
			break
		}
	}
	m.mu.Unlock()

	time.Sleep(m.claimDelay)
	return held, nil
}

func Test_ProposeUpdate_RecruiterLock_ClosesCheckThenWriteWindow(t *testing.T) {
	store := newMemoryStore(5 * time.Millisecond)
	coordinator, err := NewClaimCoordinator(store, EventBus.New())
	require.NoError(t, err)

	const workers = 8
	for i := 0; i < workers; i++ {
		row := openRow(fmt.Sprintf("role %d", i))
		require.NoError(t, store.Add(context.Background(), &row))
	}

	var wg sync.WaitGroup
	for id := 1; id <= workers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, _ = coordinator.ProposeUpdate(context.Background(), id,
				entities.RequirementPatch{Working: ptr("yes")}, "alice")
		}(id)
	}
	wg.Wait()

	rows, err := store.GetAll(context.Background())
	require.NoError(t, err)
	claimed := 0
	for _, row := range rows {
		if row.IsClaimedBy("alice") {
			claimed++
		}
	}
	assert.Equal(t, 1, claimed)
	assert.Zero(t, coordinator.locks.size())
}

func Test_Reconcile_RepairsRowsWrittenAroundTheService(t *testing.T) {
	coordinator, repo, bus := newTestCoordinator(t)
	recorded := recordEvents(t, bus)

	closedClaim := claimedRow("Closed claim", "dave")
	closedClaim.Status = entities.StatusClosed
	lowercase := openRow("Lowercase")
	lowercase.Working = "yes"
	lowercase.AssignedRecruiter = "erin"
	orphan := openRow("Orphan")
	orphan.AssignedRecruiter = "frank"

	rows := seed(t, repo,
		claimedRow("First", "alice"),
		claimedRow("Duplicate", "alice"),
		closedClaim,
		lowercase,
		orphan,
	)
	ctx := context.Background()

	for _, row := range rows {
		_, err := coordinator.Reconcile(ctx, row.ID)
		require.NoError(t, err)
	}

	assert.True(t, mustGet(t, repo, rows[0].ID).IsClaimedBy("alice"), "lowest id keeps the claim")
	assert.False(t, mustGet(t, repo, rows[1].ID).IsClaimed())
	assert.Empty(t, mustGet(t, repo, rows[2].ID).AssignedRecruiter)
	assert.True(t, mustGet(t, repo, rows[3].ID).IsClaimedBy("erin"))
	assert.Empty(t, mustGet(t, repo, rows[4].ID).AssignedRecruiter)
	assertClaimInvariants(t, repo)

	assert.Len(t, recorded.released, 2)
	assert.Empty(t, recorded.rejected)
}

func Test_Reconcile_ValidRow_IsUnchanged(t *testing.T) {
	coordinator, repo, _ := newTestCoordinator(t)
	rows := seed(t, repo, claimedRow("Go developer", "alice"), openRow("SRE"))

	for _, row := range rows {
		changed, err := coordinator.Reconcile(context.Background(), row.ID)
		require.NoError(t, err)
		assert.False(t, changed)
	}

	_, err := coordinator.Reconcile(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func Test_ResolveClaim(t *testing.T) {
	free := entities.Requirement{ID: 1, Status: entities.StatusOpen, Slots: 1}
	held := entities.Requirement{ID: 1, Status: entities.StatusOpen, Slots: 1,
		Working: entities.WorkingYes, AssignedRecruiter: "alice"}

	tests := []struct {
		name         string
		current      entities.Requirement
		patch        entities.RequirementPatch
		acting       string
		wantClaimant string
		wantErr      error
	}{
		{name: "acting recruiter claims", current: free,
			patch: entities.RequirementPatch{Working: ptr("yes")}, acting: "bob", wantClaimant: "bob"},
		{name: "acting recruiter wins over payload", current: free,
			patch: entities.RequirementPatch{Working: ptr("yes"), AssignedRecruiter: ptr("zoe")}, acting: "bob",
			wantClaimant: "bob"},
		{name: "payload recruiter without header", current: free,
			patch: entities.RequirementPatch{Working: ptr("yes"), AssignedRecruiter: ptr("zoe")}, wantClaimant: "zoe"},
		{name: "existing claim carries over", current: held,
			patch: entities.RequirementPatch{JobTitle: ptr("x")}, acting: "bob", wantClaimant: "alice"},
		{name: "working set on a held row claims for the acting recruiter", current: held,
			patch: entities.RequirementPatch{Working: ptr("yes")}, acting: "bob", wantClaimant: "bob"},
		{name: "working set on a held row without header keeps the holder", current: held,
			patch: entities.RequirementPatch{Working: ptr("yes")}, wantClaimant: "alice"},
		{name: "release", current: held,
			patch: entities.RequirementPatch{Working: ptr("no")}, acting: "alice", wantClaimant: ""},
		{name: "nobody to claim", current: free,
			patch: entities.RequirementPatch{Working: ptr("yes")}, wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, claimant, err := resolveClaim(tt.current, tt.patch, tt.acting)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantClaimant, claimant)
			assert.Equal(t, tt.wantClaimant, resolved.AssignedRecruiter)
			assert.Equal(t, tt.wantClaimant != "", resolved.IsClaimed())
		})
	}
}
