package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWorkspaceLifecycle(t *testing.T) {
	ws, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	path, err := ws.WriteHelper([]byte("print('hi')\n"))
	if err != nil {
		t.Fatalf("WriteHelper: %v", err)
	}
	if path != ws.HelperScript() || filepath.Dir(path) != ws.Dir {
		t.Errorf("WriteHelper path = %s, want %s", path, ws.HelperScript())
	}
	if data, err := os.ReadFile(path); err != nil || string(data) != "print('hi')\n" {
		t.Errorf("helper contents = %q, %v", data, err)
	}

	if err := ws.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Errorf("workspace still exists after Cleanup: %v", err)
	}
}
