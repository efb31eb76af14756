package domain

// AppendOutcome describes the result of appending a block of rows to the
// sheet. StartRow is the 1-based row number of the first appended row,
// recovered from the API's updated-range string; 0 means the range could
// not be parsed, in which case per-row follow-ups (category prompt,
// category write) are skipped even though the append itself succeeded.
type AppendOutcome struct {
	Success  bool
	StartRow int
	RowCount int
}

// outcomeKind discriminates the UploadOutcome variants.
type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeFailure
	outcomePending
)

// UploadOutcome is the tagged result of one upload attempt. It is a closed
// sum: construct it only through UploadSuccess, UploadFailure or
// UploadPending and inspect it through the accessor methods.
type UploadOutcome struct {
	kind      outcomeKind
	rowsAdded int
	err       error
	retryable bool
}

// UploadSuccess reports a successful upload of n rows.
func UploadSuccess(n int) UploadOutcome {
	return UploadOutcome{kind: outcomeSuccess, rowsAdded: n}
}

// UploadFailure reports a failed upload with its cause and whether the
// failure is worth retrying.
func UploadFailure(err error, retryable bool) UploadOutcome {
	return UploadOutcome{kind: outcomeFailure, err: err, retryable: retryable}
}

// UploadPending is a reserved, currently unused terminal state.
func UploadPending() UploadOutcome {
	return UploadOutcome{kind: outcomePending}
}

// IsSuccess reports whether the upload succeeded.
func (o UploadOutcome) IsSuccess() bool { return o.kind == outcomeSuccess }

// IsFailure reports whether the upload failed.
func (o UploadOutcome) IsFailure() bool { return o.kind == outcomeFailure }

// IsPending reports whether the outcome is the reserved pending state.
func (o UploadOutcome) IsPending() bool { return o.kind == outcomePending }

// RowsAdded returns the number of rows added on success, 0 otherwise.
func (o UploadOutcome) RowsAdded() int { return o.rowsAdded }

// Err returns the failure cause, nil unless IsFailure.
func (o UploadOutcome) Err() error { return o.err }

// Retryable reports whether a failure is transient and worth retrying.
func (o UploadOutcome) Retryable() bool { return o.kind == outcomeFailure && o.retryable }
