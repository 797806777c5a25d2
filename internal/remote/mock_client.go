package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kilupskalvis/stackmig/internal/checksum"
	"github.com/kilupskalvis/stackmig/internal/models"
)

// MockBucket stands in for the artifact storage shared by two stacks.
// Backups written by one MockClient can be restored by another that shares the bucket.
type MockBucket struct {
	mu        sync.Mutex
	artifacts map[string][]*models.RowMetadata
	next      int
}

// NewMockBucket creates an empty artifact bucket.
func NewMockBucket() *MockBucket {
	return &MockBucket{artifacts: make(map[string][]*models.RowMetadata)}
}

func (b *MockBucket) put(rows []*models.RowMetadata) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	key := fmt.Sprintf("mock://backup/%d", b.next)
	b.artifacts[key] = rows
	return key
}

func (b *MockBucket) get(key string) ([]*models.RowMetadata, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows, ok := b.artifacts[key]
	return rows, ok
}

// Len returns the number of stored artifacts.
func (b *MockBucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.artifacts)
}

var _ AdminClient = (*MockClient)(nil)

type mockJob struct {
	status      *models.BackupRestoreStatus
	pollsLeft   int
	fail        bool
	restoreType models.MigrationType
	restoreRows []*models.RowMetadata
}

// MockClient is an in-memory stack implementing AdminClient for testing.
type MockClient struct {
	mu sync.Mutex

	// Types is the dependency-ordered list of migration types.
	Types []models.MigrationType
	// Rows holds the row metadata per type, kept sorted by id.
	Rows map[models.MigrationType][]*models.RowMetadata
	// Status is the current stack status.
	Status models.StackStatus
	// Bucket receives backups and serves restores.
	Bucket *MockBucket

	// PollsBeforeDone is the number of GetStatus calls that report STARTED before a job finishes.
	PollsBeforeDone int
	// FailJobs makes the next N started jobs end in FAILED.
	FailJobs int
	// Err can be set to make every method return an error.
	Err error
	// Failures makes the named method fail the given number of times with FailureErr.
	Failures   map[string]int
	FailureErr error

	// Calls counts invocations per method name.
	Calls map[string]int
	// StatusHistory records every status set through UpdateCurrentStackStatus.
	StatusHistory []models.StatusType
	// Fired records every change number delivered by FireChangeMessages.
	Fired []int64

	jobs    map[string]*mockJob
	nextJob int
	changes []int64
}

// NewMockClient creates an empty READ_WRITE stack using the given bucket.
// A nil bucket gets a private one.
func NewMockClient(bucket *MockBucket, types ...models.MigrationType) *MockClient {
	if bucket == nil {
		bucket = NewMockBucket()
	}
	return &MockClient{
		Types:    types,
		Rows:     make(map[models.MigrationType][]*models.RowMetadata),
		Status:   models.StackStatus{Status: models.StatusReadWrite},
		Bucket:   bucket,
		Failures: make(map[string]int),
		Calls:    make(map[string]int),
		jobs:     make(map[string]*mockJob),
	}
}

// AddRow inserts or replaces a row of type t.
func (m *MockClient) AddRow(t models.MigrationType, row *models.RowMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertLocked(t, row)
}

// SetRows replaces every row of type t.
func (m *MockClient) SetRows(t models.MigrationType, rows ...*models.RowMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rows[t] = nil
	for _, r := range rows {
		m.upsertLocked(t, r)
	}
}

// RowsOf returns a copy of the rows of type t.
func (m *MockClient) RowsOf(t models.MigrationType) []*models.RowMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.RowMetadata(nil), m.Rows[t]...)
}

// CallCount returns how many times method was called.
func (m *MockClient) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[method]
}

func copyRow(r *models.RowMetadata) *models.RowMetadata {
	c := &models.RowMetadata{ID: r.ID}
	if r.Etag != nil {
		e := *r.Etag
		c.Etag = &e
	}
	if r.ParentID != nil {
		p := *r.ParentID
		c.ParentID = &p
	}
	return c
}

func (m *MockClient) upsertLocked(t models.MigrationType, row *models.RowMetadata) {
	rows := m.Rows[t]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].ID >= row.ID })
	if i < len(rows) && rows[i].ID == row.ID {
		rows[i] = copyRow(row)
	} else {
		rows = append(rows, nil)
		copy(rows[i+1:], rows[i:])
		rows[i] = copyRow(row)
	}
	m.Rows[t] = rows
	m.recordChangeLocked()
}

func (m *MockClient) deleteLocked(t models.MigrationType, id int64) bool {
	rows := m.Rows[t]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].ID >= id })
	if i < len(rows) && rows[i].ID == id {
		m.Rows[t] = append(rows[:i], rows[i+1:]...)
		m.recordChangeLocked()
		return true
	}
	return false
}

func (m *MockClient) recordChangeLocked() {
	m.changes = append(m.changes, int64(len(m.changes)+1))
}

// enter records the call and returns an injected error, if any.
func (m *MockClient) enter(method string) error {
	m.Calls[method]++
	if m.Err != nil {
		return m.Err
	}
	if n := m.Failures[method]; n > 0 {
		m.Failures[method] = n - 1
		if m.FailureErr != nil {
			return m.FailureErr
		}
		return &RemoteError{Code: "internal_error", Message: method + " failed", Status: 500}
	}
	return nil
}

// rangeLocked returns the rows of t with id in [minID, maxID].
func (m *MockClient) rangeLocked(t models.MigrationType, minID, maxID int64) []*models.RowMetadata {
	rows := m.Rows[t]
	lo := sort.Search(len(rows), func(i int) bool { return rows[i].ID >= minID })
	hi := sort.Search(len(rows), func(i int) bool { return rows[i].ID > maxID })
	if lo >= hi {
		return nil
	}
	return rows[lo:hi]
}

// GetMigrationTypes returns the configured types.
func (m *MockClient) GetMigrationTypes(_ context.Context) ([]models.MigrationType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetMigrationTypes"); err != nil {
		return nil, err
	}
	return append([]models.MigrationType(nil), m.Types...), nil
}

// GetTypeCount returns the count and id bounds of t.
func (m *MockClient) GetTypeCount(_ context.Context, t models.MigrationType) (*models.TypeCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetTypeCount"); err != nil {
		return nil, err
	}
	return m.countLocked(t), nil
}

func (m *MockClient) countLocked(t models.MigrationType) *models.TypeCount {
	rows := m.Rows[t]
	tc := &models.TypeCount{Type: t, Count: int64(len(rows))}
	if len(rows) > 0 {
		tc.MinID = rows[0].ID
		tc.MaxID = rows[len(rows)-1].ID
	}
	return tc
}

// GetTypeCounts returns the counts of every configured type.
func (m *MockClient) GetTypeCounts(_ context.Context) ([]*models.TypeCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetTypeCounts"); err != nil {
		return nil, err
	}
	counts := make([]*models.TypeCount, 0, len(m.Types))
	for _, t := range m.Types {
		counts = append(counts, m.countLocked(t))
	}
	return counts, nil
}

// GetRowMetadataByRange pages through the rows of t in [minID, maxID].
func (m *MockClient) GetRowMetadataByRange(_ context.Context, t models.MigrationType, minID, maxID, limit, offset int64) (*models.RowMetadataResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetRowMetadataByRange"); err != nil {
		return nil, err
	}
	inRange := m.rangeLocked(t, minID, maxID)
	res := &models.RowMetadataResult{TotalCount: int64(len(inRange)), List: []*models.RowMetadata{}}
	if offset >= int64(len(inRange)) {
		return res, nil
	}
	end := offset + limit
	if end > int64(len(inRange)) {
		end = int64(len(inRange))
	}
	for _, r := range inRange[offset:end] {
		res.List = append(res.List, copyRow(r))
	}
	return res, nil
}

// GetChecksumForIDRange fingerprints the rows of t in [minID, maxID].
func (m *MockClient) GetChecksumForIDRange(_ context.Context, t models.MigrationType, salt string, minID, maxID int64) (*models.MigrationRangeChecksum, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetChecksumForIDRange"); err != nil {
		return nil, err
	}
	return &models.MigrationRangeChecksum{
		Type:     t,
		MinID:    minID,
		MaxID:    maxID,
		Checksum: checksum.Of(salt, m.rangeLocked(t, minID, maxID)),
	}, nil
}

func (m *MockClient) startJobLocked(jobType models.JobType, t models.MigrationType, total int64) *mockJob {
	m.nextJob++
	job := &mockJob{
		status: &models.BackupRestoreStatus{
			ID:            fmt.Sprintf("job-%d", m.nextJob),
			Type:          jobType,
			MigrationType: t,
			Status:        models.JobStarted,
			ProgressTotal: total,
		},
		pollsLeft: m.PollsBeforeDone,
	}
	if m.FailJobs > 0 {
		m.FailJobs--
		job.fail = true
	}
	m.jobs[job.status.ID] = job
	return job
}

func copyStatus(s *models.BackupRestoreStatus) *models.BackupRestoreStatus {
	c := *s
	return &c
}

// StartBackup snapshots the requested rows into the bucket. Unknown ids are skipped.
func (m *MockClient) StartBackup(_ context.Context, t models.MigrationType, ids []int64) (*models.BackupRestoreStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("StartBackup"); err != nil {
		return nil, err
	}
	job := m.startJobLocked(models.JobBackup, t, int64(len(ids)))
	if !job.fail {
		var rows []*models.RowMetadata
		for _, id := range ids {
			if r := m.rangeLocked(t, id, id); len(r) == 1 {
				rows = append(rows, copyRow(r[0]))
			}
		}
		job.status.BackupURL = m.Bucket.put(rows)
	}
	return copyStatus(job.status), nil
}

// StartRestore applies a bucket artifact when the job completes.
func (m *MockClient) StartRestore(_ context.Context, t models.MigrationType, sub *models.RestoreSubmission) (*models.BackupRestoreStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("StartRestore"); err != nil {
		return nil, err
	}
	rows, ok := m.Bucket.get(sub.BackupURL)
	if !ok {
		return nil, &RemoteError{Code: "not_found", Message: "backup " + sub.BackupURL + " not found", Status: 404}
	}
	job := m.startJobLocked(models.JobRestore, t, int64(len(rows)))
	job.restoreType = t
	job.restoreRows = rows
	return copyStatus(job.status), nil
}

// GetStatus advances a job one poll and returns its state.
func (m *MockClient) GetStatus(_ context.Context, jobID string) (*models.BackupRestoreStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetStatus"); err != nil {
		return nil, err
	}
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, &RemoteError{Code: "not_found", Message: "job " + jobID + " not found", Status: 404}
	}
	if job.status.Status.Terminal() {
		return copyStatus(job.status), nil
	}
	if job.pollsLeft > 0 {
		job.pollsLeft--
		job.status.ProgressCurrent = job.status.ProgressTotal / 2
		return copyStatus(job.status), nil
	}
	if job.fail {
		job.status.Status = models.JobFailed
		job.status.ErrorMessage = "injected failure"
		return copyStatus(job.status), nil
	}
	for _, r := range job.restoreRows {
		m.upsertLocked(job.restoreType, r)
	}
	job.status.Status = models.JobCompleted
	job.status.ProgressCurrent = job.status.ProgressTotal
	return copyStatus(job.status), nil
}

// DeleteMigratableObject removes rows of t; missing ids are ignored.
func (m *MockClient) DeleteMigratableObject(_ context.Context, t models.MigrationType, ids []int64) (*models.DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteMigratableObject"); err != nil {
		return nil, err
	}
	var n int64
	for _, id := range ids {
		if m.deleteLocked(t, id) {
			n++
		}
	}
	return &models.DeleteResult{Count: n}, nil
}

// GetCurrentStackStatus returns the stack status.
func (m *MockClient) GetCurrentStackStatus(_ context.Context) (*models.StackStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetCurrentStackStatus"); err != nil {
		return nil, err
	}
	s := m.Status
	return &s, nil
}

// UpdateCurrentStackStatus sets the stack status.
func (m *MockClient) UpdateCurrentStackStatus(_ context.Context, status *models.StackStatus) (*models.StackStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateCurrentStackStatus"); err != nil {
		return nil, err
	}
	m.Status = *status
	m.StatusHistory = append(m.StatusHistory, status.Status)
	s := m.Status
	return &s, nil
}

// GetCurrentChangeNumber returns the number the next change will get.
func (m *MockClient) GetCurrentChangeNumber(_ context.Context) (*models.ChangeNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetCurrentChangeNumber"); err != nil {
		return nil, err
	}
	return &models.ChangeNumber{NextChangeNumber: int64(len(m.changes)) + 1}, nil
}

// FireChangeMessages records up to limit changes numbered startNumber and above as fired.
func (m *MockClient) FireChangeMessages(_ context.Context, startNumber, limit int64) (*models.ChangeNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FireChangeMessages"); err != nil {
		return nil, err
	}
	var fired int64
	for _, n := range m.changes {
		if n < startNumber {
			continue
		}
		if fired == limit {
			return &models.ChangeNumber{NextChangeNumber: n}, nil
		}
		m.Fired = append(m.Fired, n)
		fired++
	}
	return &models.ChangeNumber{NextChangeNumber: models.ChangesExhausted}, nil
}
