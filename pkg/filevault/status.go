package filevault

import "fmt"

// canCompleteUpload checks that a file can move uploading -> processing.
func canCompleteUpload(status FileStatus) error {
	switch status {
	case FileStatusUploading:
		return nil
	case FileStatusDeleted:
		return fmt.Errorf("%w: file is deleted", ErrInvalidFileStatus)
	default:
		return fmt.Errorf("%w: upload already completed (status: %s)", ErrInvalidFileStatus, status)
	}
}

// canDownload checks that a file's bytes may be handed out.
func canDownload(status FileStatus) error {
	switch status {
	case FileStatusReady, FileStatusProcessing:
		return nil
	case FileStatusUploading:
		return fmt.Errorf("%w: upload is still in progress (status: %s)", ErrInvalidFileStatus, status)
	case FileStatusFailed:
		return fmt.Errorf("%w: upload or processing failed (status: %s)", ErrInvalidFileStatus, status)
	case FileStatusDeleted:
		return ErrFileNotFound
	default:
		return fmt.Errorf("%w: unknown status %s", ErrInvalidFileStatus, status)
	}
}

// jobTransitionAllowed enforces monotonically forward job transitions.
func jobTransitionAllowed(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing || to == JobStatusFailed
	case JobStatusProcessing:
		return to == JobStatusCompleted || to == JobStatusFailed
	default:
		// completed and failed are terminal
		return false
	}
}
