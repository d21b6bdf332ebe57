package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetEnvironment(t *testing.T) {
	// Table-driven test cases
	tests := []struct {
		name          string
		inputEnv      string
		expectedName  string
		expectedAddr  string
		expectDefault bool // If true, we expect the fallback (local) config
	}{
		{
			name:         "Get local environment",
			inputEnv:     "local",
			expectedName: "LOCAL",
			expectedAddr: "localhost:" + ServerPort,
		},
		{
			name:         "Get remote environment",
			inputEnv:     "remote",
			expectedName: "REMOTE",
			expectedAddr: "0.0.0.0:" + ServerPort,
		},
		{
			name:          "Get unknown environment (defaults to local)",
			inputEnv:      "unknown_env",
			expectedName:  "LOCAL",
			expectedAddr:  "localhost:" + ServerPort,
			expectDefault: true,
		},
		{
			name:          "Get empty environment (defaults to local)",
			inputEnv:      "",
			expectedName:  "LOCAL",
			expectedAddr:  "localhost:" + ServerPort,
			expectDefault: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetEnvironment(tt.inputEnv)

			if got.Name != tt.expectedName {
				t.Errorf("GetEnvironment(%q).Name = %q; want %q", tt.inputEnv, got.Name, tt.expectedName)
			}
			if got.ListenAddr != tt.expectedAddr {
				t.Errorf("GetEnvironment(%q).ListenAddr = %q; want %q", tt.inputEnv, got.ListenAddr, tt.expectedAddr)
			}

			// Core tunables must never be zero
			if got.MaxPoolSize == 0 {
				t.Errorf("GetEnvironment(%q).MaxPoolSize is 0", tt.inputEnv)
			}
			if got.HealthTTL == 0 {
				t.Errorf("GetEnvironment(%q).HealthTTL is 0", tt.inputEnv)
			}
			if got.ProbeTimeout == 0 {
				t.Errorf("GetEnvironment(%q).ProbeTimeout is 0", tt.inputEnv)
			}
			if got.ConnMaxAge == 0 {
				t.Errorf("GetEnvironment(%q).ConnMaxAge is 0", tt.inputEnv)
			}

			if tt.expectDefault {
				localCfg := environments["local"]
				if got.Name != localCfg.Name {
					t.Errorf("GetEnvironment(%q) did not return local config as default", tt.inputEnv)
				}
			}
		})
	}
}

func TestEnvironment_LogPath(t *testing.T) {
	env := Environment{
		ServiceName: "TestService",
	}
	stateDir := "/var/lib"
	expected := filepath.Join(stateDir, "TestService", "TestService.log")

	got := env.LogPath(stateDir)

	if got != expected {
		t.Errorf("LogPath(%q) = %q; want %q", stateDir, got, expected)
	}
}

func TestLoadPrinters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "printers.yaml")

	yaml := `printers:
  - name: Kasir Depan
    id: kasir_1
    backend:
      type: tcp9100
      host: 192.168.10.21
      port: 9100
  - name: Dapur
    id: dapur
    backend:
      type: tcp9100
      host: 192.168.10.22
      port: 9100
`
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadPrinters(path)
	if err != nil {
		t.Fatalf("LoadPrinters failed: %v", err)
	}
	if len(cfg.Printers) != 2 {
		t.Fatalf("loaded %d printers; want 2", len(cfg.Printers))
	}
	p := cfg.Printers[0]
	if p.ID != "kasir_1" || p.Backend.Host != "192.168.10.21" || p.Backend.Port != 9100 {
		t.Errorf("first printer = %+v", p)
	}
	if p.Backend.Addr() != "192.168.10.21:9100" {
		t.Errorf("Addr() = %q; want 192.168.10.21:9100", p.Backend.Addr())
	}
}

func TestLoadPrintersRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing id",
			yaml: "printers:\n  - name: x\n    backend: {type: tcp9100, host: h, port: 9100}\n",
		},
		{
			name: "duplicate id",
			yaml: "printers:\n  - {id: a, backend: {type: tcp9100, host: h, port: 9100}}\n  - {id: a, backend: {type: tcp9100, host: h2, port: 9100}}\n",
		},
		{
			name: "unknown backend type",
			yaml: "printers:\n  - {id: a, backend: {type: usb, host: h, port: 9100}}\n",
		},
		{
			name: "port out of range",
			yaml: "printers:\n  - {id: a, backend: {type: tcp9100, host: h, port: 99100}}\n",
		},
		{
			name: "not yaml",
			yaml: "{{{{",
		},
	}

	dir := t.TempDir()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadPrinters(path); err == nil {
				t.Fatal("LoadPrinters accepted invalid config")
			}
		})
	}
}

func TestSavePrintersRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "printers.yaml")

	cfg := &Printers{Printers: []Printer{
		{Name: "Bar", ID: "bar", Backend: Backend{Kind: BackendKindTCP9100, Host: "10.0.0.5", Port: 9100}},
	}}

	if err := SavePrinters(path, cfg); err != nil {
		t.Fatalf("SavePrinters failed: %v", err)
	}

	// temp file must not linger
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}

	loaded, err := LoadPrinters(path)
	if err != nil {
		t.Fatalf("LoadPrinters after save failed: %v", err)
	}
	if len(loaded.Printers) != 1 || loaded.Printers[0].ID != "bar" {
		t.Errorf("round-trip produced %+v", loaded.Printers)
	}
}
