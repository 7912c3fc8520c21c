package relay

import "time"

// ConfigSnapshot is the wire-safe view of RuntimeConfig returned by
// GetConfig, kept distinct from the live document per the original's
// separation of DTOs from internal state.
type ConfigSnapshot struct {
	StorageDir          string  `json:"storage_dir"`
	Bind                string  `json:"bind"`
	Admin               string  `json:"admin"`
	Proxy               *string `json:"proxy,omitempty"`
	URL                 string  `json:"url"`
	IntervalSecs        uint64  `json:"interval_secs"`
	DownloadConcurrency uint    `json:"download_concurrency"`
	DownloadRetry       uint    `json:"download_retry"`
	RetryBaseDelayMs    uint64  `json:"retry_base_delay_ms"`
}

func newConfigSnapshot(c *RuntimeConfig) ConfigSnapshot {
	return ConfigSnapshot{
		StorageDir:          c.StorageDir,
		Bind:                c.Bind,
		Admin:               c.HTTPAdmin,
		Proxy:               c.Proxy,
		URL:                 c.URL,
		IntervalSecs:        c.IntervalSecs,
		DownloadConcurrency: c.DownloadConcurrency,
		DownloadRetry:       c.DownloadRetry,
		RetryBaseDelayMs:    c.RetryBaseDelayMs,
	}
}

// ProxyAction is the tri-state update mode for UpdateConfigInput.Proxy:
// absent (no change), clear, or set to a new value. Go has no nested
// optional, so the spec's "absent outer / present-empty / present
// non-empty" shape is modelled as an explicit tag plus value field,
// exactly the fallback §9 recommends.
type ProxyAction int

const (
	ProxyNoChange ProxyAction = iota
	ProxyClear
	ProxySet
)

// UpdateConfigInput is the partial-update input to UpdateConfig. Every
// field besides Proxy uses a pointer: nil means "leave unchanged",
// non-nil means "set to this value".
type UpdateConfigInput struct {
	IntervalSecs        *uint64 `json:"interval_secs,omitempty"`
	StorageDir          *string `json:"storage_dir,omitempty"`
	Bind                *string `json:"bind,omitempty"`
	HTTPAdmin           *string `json:"http_admin,omitempty"`
	GRPCAdmin           *string `json:"grpc_admin,omitempty"`
	URL                 *string `json:"url,omitempty"`
	ProxyAction         ProxyAction `json:"proxy_action,omitempty"`
	ProxyValue          string  `json:"proxy_value,omitempty"`
	DownloadConcurrency *uint   `json:"download_concurrency,omitempty"`
	DownloadRetry       *uint   `json:"download_retry,omitempty"`
	RetryBaseDelayMs    *uint64 `json:"retry_base_delay_ms,omitempty"`
}

// FileInfoDto is one entry returned by ListFiles.
type FileInfoDto struct {
	Filename     string `json:"filename"`
	URL          string `json:"url"`
	LastModified string `json:"last_modified"`
}

// FileItemInput is one entry of UpdateFilesInput's new_files or add_files
// list.
type FileItemInput struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// UpdateFilesInput mirrors FilesMutation at the DTO boundary.
type UpdateFilesInput struct {
	ReplaceAll  bool            `json:"replace_all"`
	NewFiles    []FileItemInput `json:"new_files,omitempty"`
	AddFiles    []FileItemInput `json:"add_files,omitempty"`
	RemoveFiles []string        `json:"remove_files,omitempty"`
}

// FileProgressDto is the wire view of FileProgress.
type FileProgressDto struct {
	Downloaded uint64  `json:"downloaded"`
	Total      *uint64 `json:"total,omitempty"`
	Done       bool    `json:"done"`
	Error      string  `json:"error,omitempty"`
}

// StatusSnapshot is the wire view of SyncStatus, augmented with
// stored_files per §4.6.
type StatusSnapshot struct {
	Running      bool                       `json:"running"`
	StartTime    *time.Time                 `json:"start_time,omitempty"`
	LastSync     *time.Time                 `json:"last_sync,omitempty"`
	LastOkSync   *time.Time                 `json:"last_ok_sync,omitempty"`
	LastResult   string                     `json:"last_result"`
	LastError    string                     `json:"last_error,omitempty"`
	TotalFiles   int                        `json:"total_files"`
	FinishedFiles int                       `json:"finished_files"`
	FailedFiles  int                        `json:"failed_files"`
	Files        map[string]FileProgressDto `json:"files"`
	StoredFiles  int                        `json:"stored_files"`
}

func newStatusSnapshot(s *SyncStatus, storedFiles int) StatusSnapshot {
	files := make(map[string]FileProgressDto, len(s.Files))
	for name, fp := range s.Files {
		files[name] = FileProgressDto{
			Downloaded: fp.Downloaded,
			Total:      fp.Total,
			Done:       fp.Done,
			Error:      fp.Error,
		}
	}
	return StatusSnapshot{
		Running:       s.Running,
		StartTime:     s.StartTime,
		LastSync:      s.LastSync,
		LastOkSync:    s.LastOkSync,
		LastResult:    s.LastResult.String(),
		LastError:     s.LastFailMsg,
		TotalFiles:    s.TotalFiles,
		FinishedFiles: s.FinishedFiles,
		FailedFiles:   s.FailedFiles,
		Files:         files,
		StoredFiles:   storedFiles,
	}
}
