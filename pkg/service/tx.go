package service

import "github.com/ymorita/restrack/pkg/storage"

// finishTx commits the transaction when *err is nil, otherwise rolls it back.
// Meant to be deferred with a named return error.
func finishTx(logger Logger, txStore storage.Store, err *error) {
	if *err != nil {
		if rollbackErr := txStore.Rollback(); rollbackErr != nil {
			logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, *err)
		}
		return
	}
	if commitErr := txStore.Commit(); commitErr != nil {
		logger.Errorf("Failed to commit: %v", commitErr)
		*err = commitErr
	}
}
