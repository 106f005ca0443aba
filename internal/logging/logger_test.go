package logging

import "testing"

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer Sync(logger)
	if !logger.Core().Enabled(-1) {
		t.Fatal("expected development logger to enable debug level")
	}
	logger.Debug("development logger ready")
}

// TestNewProductionLogger ensures the production logger skips debug output.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	defer Sync(logger)
	if logger.Core().Enabled(-1) {
		t.Fatal("expected production logger to drop debug level")
	}
	logger.Info("production logger ready")
}

func TestSyncNil(t *testing.T) {
	t.Parallel()
	Sync(nil)
}
