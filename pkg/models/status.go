package models

// JobStatus represents the lifecycle status of a trade job
type JobStatus string

const (
	// JobStatusPendingEnqueued indicates the job is waiting for a worker to pick it up
	JobStatusPendingEnqueued JobStatus = "pending_enqueued"
	// JobStatusPendingProcessing indicates a worker has picked up the job and is validating it
	JobStatusPendingProcessing JobStatus = "pending_processing"
	// JobStatusPendingLastLookAccepted indicates the maker accepted the last look and signed
	JobStatusPendingLastLookAccepted JobStatus = "pending_last_look_accepted"
	// JobStatusPendingSubmitted indicates at least one transaction has been broadcast
	JobStatusPendingSubmitted JobStatus = "pending_submitted"

	// JobStatusFailedEthCallFailed indicates the pre-broadcast gas estimation reverted
	JobStatusFailedEthCallFailed JobStatus = "failed_eth_call_failed"
	// JobStatusFailedExpired indicates the order expired before settlement
	JobStatusFailedExpired JobStatus = "failed_expired"
	// JobStatusFailedLastLookDeclined indicates the maker declined the trade on last look
	JobStatusFailedLastLookDeclined JobStatus = "failed_last_look_declined"
	// JobStatusFailedRevertedConfirmed indicates the trade transaction reverted past the confirmation depth
	JobStatusFailedRevertedConfirmed JobStatus = "failed_reverted_confirmed"
	// JobStatusFailedRevertedUnconfirmed indicates the trade transaction reverted within the confirmation depth
	JobStatusFailedRevertedUnconfirmed JobStatus = "failed_reverted_unconfirmed"
	// JobStatusFailedSignFailed indicates the maker signature request failed
	JobStatusFailedSignFailed JobStatus = "failed_sign_failed"
	// JobStatusFailedSubmitFailed indicates broadcasting the transaction failed
	JobStatusFailedSubmitFailed JobStatus = "failed_submit_failed"

	// JobStatusSucceededConfirmed indicates the trade succeeded past the confirmation depth
	JobStatusSucceededConfirmed JobStatus = "succeeded_confirmed"
	// JobStatusSucceededUnconfirmed indicates the trade succeeded within the confirmation depth
	JobStatusSucceededUnconfirmed JobStatus = "succeeded_unconfirmed"
)

// Unprocessed reports whether the job is still in the queue and no worker
// has acted on it beyond validation.
func (s JobStatus) Unprocessed() bool {
	return s == JobStatusPendingEnqueued || s == JobStatusPendingProcessing
}

// Resolved reports whether the job has reached a state that should not be
// retried by the settlement worker.
func (s JobStatus) Resolved() bool {
	switch s {
	case JobStatusFailedEthCallFailed,
		JobStatusFailedExpired,
		JobStatusFailedLastLookDeclined,
		JobStatusFailedRevertedConfirmed,
		JobStatusFailedSignFailed,
		JobStatusFailedSubmitFailed,
		JobStatusSucceededConfirmed:
		return true
	case JobStatusFailedRevertedUnconfirmed,
		JobStatusPendingEnqueued,
		JobStatusPendingProcessing,
		JobStatusPendingLastLookAccepted,
		JobStatusPendingSubmitted,
		JobStatusSucceededUnconfirmed:
		return false
	}
	return false
}

// Failed reports whether the job ended in a failure state.
func (s JobStatus) Failed() bool {
	switch s {
	case JobStatusFailedEthCallFailed,
		JobStatusFailedExpired,
		JobStatusFailedLastLookDeclined,
		JobStatusFailedRevertedConfirmed,
		JobStatusFailedRevertedUnconfirmed,
		JobStatusFailedSignFailed,
		JobStatusFailedSubmitFailed:
		return true
	}
	return false
}

// SubmissionType distinguishes trade settlement transactions from gasless
// approval transactions belonging to the same job.
type SubmissionType string

const (
	// SubmissionTypeTrade is a settlement transaction for the trade itself
	SubmissionTypeTrade SubmissionType = "trade"
	// SubmissionTypeApproval is a gasless token approval transaction
	SubmissionTypeApproval SubmissionType = "approval"
)

// SubmissionStatus represents the status of a single broadcast attempt
type SubmissionStatus string

const (
	// SubmissionStatusPresubmit indicates the row was created but the transaction not yet broadcast
	SubmissionStatusPresubmit SubmissionStatus = "presubmit"
	// SubmissionStatusSubmitted indicates the transaction is in the mempool
	SubmissionStatusSubmitted SubmissionStatus = "submitted"
	// SubmissionStatusDroppedAndReplaced indicates a later gas bump with the same nonce mined instead
	SubmissionStatusDroppedAndReplaced SubmissionStatus = "dropped_and_replaced"
	// SubmissionStatusRevertedUnconfirmed indicates the transaction reverted within the confirmation depth
	SubmissionStatusRevertedUnconfirmed SubmissionStatus = "reverted_unconfirmed"
	// SubmissionStatusRevertedConfirmed indicates the transaction reverted past the confirmation depth
	SubmissionStatusRevertedConfirmed SubmissionStatus = "reverted_confirmed"
	// SubmissionStatusSucceededUnconfirmed indicates the transaction succeeded within the confirmation depth
	SubmissionStatusSucceededUnconfirmed SubmissionStatus = "succeeded_unconfirmed"
	// SubmissionStatusSucceededConfirmed indicates the transaction succeeded past the confirmation depth
	SubmissionStatusSucceededConfirmed SubmissionStatus = "succeeded_confirmed"
)

// Succeeded reports whether the submission mined successfully, confirmed or not.
func (s SubmissionStatus) Succeeded() bool {
	return s == SubmissionStatusSucceededConfirmed || s == SubmissionStatusSucceededUnconfirmed
}
