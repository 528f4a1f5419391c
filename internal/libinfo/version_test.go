/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package libinfo

import (
	"debug/buildinfo"
	"runtime/debug"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestExtractLibVersion(t *testing.T) {
	const modName = "github.com/acronis/go-apipacer"

	tests := []struct {
		name        string
		buildInfo   *buildinfo.BuildInfo
		expectedVer string
	}{
		{
			name: "module found",
			buildInfo: &buildinfo.BuildInfo{
				Deps: []*debug.Module{
					{Path: modName, Version: "v0.3.1"},
				},
			},
			expectedVer: "v0.3.1",
		},
		{
			name: "module found among other deps",
			buildInfo: &buildinfo.BuildInfo{
				Deps: []*debug.Module{
					{Path: "github.com/stretchr/testify", Version: "v1.9.0"},
					{Path: modName, Version: "v0.3.1"},
					{Path: "github.com/spf13/viper", Version: "v1.19.0"},
				},
			},
			expectedVer: "v0.3.1",
		},
		{
			name: "module found, major version suffix",
			buildInfo: &buildinfo.BuildInfo{
				Deps: []*debug.Module{
					{Path: modName + "/v2", Version: "v2.1.0"},
				},
			},
			expectedVer: "v2.1.0",
		},
		{
			name: "module not found",
			buildInfo: &buildinfo.BuildInfo{
				Deps: []*debug.Module{
					{Path: "github.com/stretchr/testify", Version: "v1.9.0"},
				},
			},
			expectedVer: "",
		},
		{
			name:        "empty deps",
			buildInfo:   &buildinfo.BuildInfo{Deps: []*debug.Module{}},
			expectedVer: "",
		},
		{
			name:        "nil build info",
			buildInfo:   nil,
			expectedVer: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expectedVer, extractLibVersion(tt.buildInfo, modName))
		})
	}
}

func TestGetLibVersion(t *testing.T) {
	// In this module's own test binary the library is the main module, not a dependency,
	// so the fallback version is returned.
	require.Equal(t, "v0.0.0", GetLibVersion())
}

func TestAddPrometheusLibVersionLabel(t *testing.T) {
	labels := prometheus.Labels{"client": "pacer"}
	got := AddPrometheusLibVersionLabel(labels)
	require.Equal(t, GetLibVersion(), got[PrometheusLibVersionLabel])
	require.Equal(t, "pacer", got["client"])
	require.NotContains(t, labels, PrometheusLibVersionLabel)
}
