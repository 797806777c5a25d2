package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kilupskalvis/stackmig/internal/models"
	"golang.org/x/time/rate"
)

// AdminClient defines the admin API of one stack. The migration engine holds
// two of them: one bound to the source stack, one to the destination.
type AdminClient interface {
	GetMigrationTypes(ctx context.Context) ([]models.MigrationType, error)
	GetTypeCount(ctx context.Context, t models.MigrationType) (*models.TypeCount, error)
	GetTypeCounts(ctx context.Context) ([]*models.TypeCount, error)
	GetRowMetadataByRange(ctx context.Context, t models.MigrationType, minID, maxID, limit, offset int64) (*models.RowMetadataResult, error)
	GetChecksumForIDRange(ctx context.Context, t models.MigrationType, salt string, minID, maxID int64) (*models.MigrationRangeChecksum, error)

	StartBackup(ctx context.Context, t models.MigrationType, ids []int64) (*models.BackupRestoreStatus, error)
	StartRestore(ctx context.Context, t models.MigrationType, req *models.RestoreSubmission) (*models.BackupRestoreStatus, error)
	GetStatus(ctx context.Context, jobID string) (*models.BackupRestoreStatus, error)
	DeleteMigratableObject(ctx context.Context, t models.MigrationType, ids []int64) (*models.DeleteResult, error)

	GetCurrentStackStatus(ctx context.Context) (*models.StackStatus, error)
	UpdateCurrentStackStatus(ctx context.Context, status *models.StackStatus) (*models.StackStatus, error)

	GetCurrentChangeNumber(ctx context.Context) (*models.ChangeNumber, error)
	FireChangeMessages(ctx context.Context, startNumber, limit int64) (*models.ChangeNumber, error)
}

// HTTPClient implements AdminClient over HTTP.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ AdminClient = (*HTTPClient)(nil)

// NewHTTPClient creates an admin API client for the stack at baseURL.
// A requestsPerSecond of zero or less disables client-side throttling.
func NewHTTPClient(baseURL, token string, requestsPerSecond float64) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return c
}

func (c *HTTPClient) adminURL(path string, query url.Values) string {
	u := c.baseURL + "/admin" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, reqBody, respBody interface{}) error {
	var body io.Reader
	headers := map[string]string{"Content-Type": "application/json"}

	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, url, body, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// GetMigrationTypes returns the stack's migration types in dependency order.
func (c *HTTPClient) GetMigrationTypes(ctx context.Context) ([]models.MigrationType, error) {
	var resp MigrationTypesResponse
	if err := c.doJSON(ctx, "GET", c.adminURL("/migration/types", nil), nil, &resp); err != nil {
		return nil, fmt.Errorf("get migration types: %w", err)
	}
	return resp.List, nil
}

// GetTypeCount returns the row count and id bounds of a type.
func (c *HTTPClient) GetTypeCount(ctx context.Context, t models.MigrationType) (*models.TypeCount, error) {
	q := url.Values{"type": {string(t)}}
	var resp models.TypeCount
	if err := c.doJSON(ctx, "GET", c.adminURL("/migration/count", q), nil, &resp); err != nil {
		return nil, fmt.Errorf("get type count %s: %w", t, err)
	}
	return &resp, nil
}

// GetTypeCounts returns the counts of every migration type.
func (c *HTTPClient) GetTypeCounts(ctx context.Context) ([]*models.TypeCount, error) {
	var resp TypeCountsResponse
	if err := c.doJSON(ctx, "GET", c.adminURL("/migration/counts", nil), nil, &resp); err != nil {
		return nil, fmt.Errorf("get type counts: %w", err)
	}
	return resp.List, nil
}

// GetRowMetadataByRange returns one page of row metadata with id in [minID, maxID].
func (c *HTTPClient) GetRowMetadataByRange(ctx context.Context, t models.MigrationType, minID, maxID, limit, offset int64) (*models.RowMetadataResult, error) {
	q := url.Values{
		"type":   {string(t)},
		"minId":  {formatID(minID)},
		"maxId":  {formatID(maxID)},
		"limit":  {formatID(limit)},
		"offset": {formatID(offset)},
	}
	var resp models.RowMetadataResult
	if err := c.doJSON(ctx, "GET", c.adminURL("/migration/rangerows", q), nil, &resp); err != nil {
		return nil, fmt.Errorf("get row metadata %s [%d,%d] offset %d: %w", t, minID, maxID, offset, err)
	}
	return &resp, nil
}

// GetChecksumForIDRange asks the stack to fingerprint [minID, maxID] of a type.
func (c *HTTPClient) GetChecksumForIDRange(ctx context.Context, t models.MigrationType, salt string, minID, maxID int64) (*models.MigrationRangeChecksum, error) {
	q := url.Values{
		"type":  {string(t)},
		"salt":  {salt},
		"minId": {formatID(minID)},
		"maxId": {formatID(maxID)},
	}
	var resp models.MigrationRangeChecksum
	if err := c.doJSON(ctx, "GET", c.adminURL("/migration/rangechecksum", q), nil, &resp); err != nil {
		return nil, fmt.Errorf("get checksum %s [%d,%d]: %w", t, minID, maxID, err)
	}
	return &resp, nil
}

// StartBackup starts an async backup job for the given rows.
func (c *HTTPClient) StartBackup(ctx context.Context, t models.MigrationType, ids []int64) (*models.BackupRestoreStatus, error) {
	req := &IDListRequest{Type: t, IDs: ids}
	var resp models.BackupRestoreStatus
	if err := c.doJSON(ctx, "POST", c.adminURL("/migration/backup", nil), req, &resp); err != nil {
		return nil, fmt.Errorf("start backup %s: %w", t, err)
	}
	return &resp, nil
}

// StartRestore starts an async restore job from a backup artifact.
func (c *HTTPClient) StartRestore(ctx context.Context, t models.MigrationType, sub *models.RestoreSubmission) (*models.BackupRestoreStatus, error) {
	req := &RestoreRequest{Type: t, BackupURL: sub.BackupURL}
	var resp models.BackupRestoreStatus
	if err := c.doJSON(ctx, "POST", c.adminURL("/migration/restore", nil), req, &resp); err != nil {
		return nil, fmt.Errorf("start restore %s: %w", t, err)
	}
	return &resp, nil
}

// GetStatus polls an async job.
func (c *HTTPClient) GetStatus(ctx context.Context, jobID string) (*models.BackupRestoreStatus, error) {
	var resp models.BackupRestoreStatus
	if err := c.doJSON(ctx, "GET", c.adminURL("/migration/jobs/"+url.PathEscape(jobID), nil), nil, &resp); err != nil {
		return nil, fmt.Errorf("get job status %s: %w", jobID, err)
	}
	return &resp, nil
}

// DeleteMigratableObject deletes the given rows of a type.
func (c *HTTPClient) DeleteMigratableObject(ctx context.Context, t models.MigrationType, ids []int64) (*models.DeleteResult, error) {
	req := &IDListRequest{Type: t, IDs: ids}
	var resp models.DeleteResult
	if err := c.doJSON(ctx, "POST", c.adminURL("/migration/delete", nil), req, &resp); err != nil {
		return nil, fmt.Errorf("delete %s: %w", t, err)
	}
	return &resp, nil
}

// GetCurrentStackStatus returns the stack status.
func (c *HTTPClient) GetCurrentStackStatus(ctx context.Context) (*models.StackStatus, error) {
	var resp models.StackStatus
	if err := c.doJSON(ctx, "GET", c.adminURL("/status", nil), nil, &resp); err != nil {
		return nil, fmt.Errorf("get stack status: %w", err)
	}
	return &resp, nil
}

// UpdateCurrentStackStatus sets the stack status and returns the new state.
func (c *HTTPClient) UpdateCurrentStackStatus(ctx context.Context, status *models.StackStatus) (*models.StackStatus, error) {
	var resp models.StackStatus
	if err := c.doJSON(ctx, "PUT", c.adminURL("/status", nil), status, &resp); err != nil {
		return nil, fmt.Errorf("update stack status: %w", err)
	}
	return &resp, nil
}

// GetCurrentChangeNumber returns the next change number the stack will assign.
func (c *HTTPClient) GetCurrentChangeNumber(ctx context.Context) (*models.ChangeNumber, error) {
	var resp models.ChangeNumber
	if err := c.doJSON(ctx, "GET", c.adminURL("/changes/current", nil), nil, &resp); err != nil {
		return nil, fmt.Errorf("get current change number: %w", err)
	}
	return &resp, nil
}

// FireChangeMessages re-sends up to limit change messages starting at startNumber.
func (c *HTTPClient) FireChangeMessages(ctx context.Context, startNumber, limit int64) (*models.ChangeNumber, error) {
	req := &FireChangesRequest{StartNumber: startNumber, Limit: limit}
	var resp models.ChangeNumber
	if err := c.doJSON(ctx, "POST", c.adminURL("/changes/fire", nil), req, &resp); err != nil {
		return nil, fmt.Errorf("fire change messages from %d: %w", startNumber, err)
	}
	return &resp, nil
}

// RemoteError represents a structured error from a stack.
type RemoteError struct {
	Code    string
	Message string
	Status  int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%d): %s: %s", e.Status, e.Code, e.Message)
}

func decodeError(resp *http.Response) error {
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return &RemoteError{
			Code:    "unknown",
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}

	return &RemoteError{
		Code:    errResp.Error,
		Message: errResp.Message,
		Status:  resp.StatusCode,
	}
}
