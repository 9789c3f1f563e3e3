package domain

// JobResult is the terminal outcome of a job as reported to the UI.
type JobResult struct {
	Success    bool      `json:"success"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	Kind       ErrorKind `json:"kind,omitempty"`
	ReturnCode int       `json:"returnCode"`
}

// ExecuteAsyncResult reports whether an asynchronous job was registered.
type ExecuteAsyncResult struct {
	Started bool      `json:"started"`
	JobID   string    `json:"jobId,omitempty"`
	Error   string    `json:"error,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`
}

// CancelResult reports whether an active job received a cancel request.
type CancelResult struct {
	Cancelled bool `json:"cancelled"`
}

// OperationResult is the generic success/failure envelope.
type OperationResult struct {
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`
}

// StageInResult is the boundary result of a stage-in.
type StageInResult struct {
	Success      bool      `json:"success"`
	Path         string    `json:"path,omitempty"`
	OriginalName string    `json:"originalName,omitempty"`
	Error        string    `json:"error,omitempty"`
	Kind         ErrorKind `json:"kind,omitempty"`
}

// StageOutResult is the boundary result of a stage-out.
type StageOutResult struct {
	Success   bool      `json:"success"`
	FinalPath string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
	Kind      ErrorKind `json:"kind,omitempty"`
}

// AccessRequestResult is the boundary result of an access request.
type AccessRequestResult struct {
	Outcome AccessOutcome `json:"outcome"`
	Granted bool          `json:"granted"`
	Opened  bool          `json:"opened"`
	Message string        `json:"message,omitempty"`
	Error   string        `json:"error,omitempty"`
	Kind    ErrorKind     `json:"kind,omitempty"`
}

// Failure builds a failed OperationResult from any error.
func Failure(err error) OperationResult {
	return OperationResult{Success: false, Error: err.Error(), Kind: KindOf(err)}
}
