// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package topology

import (
	"flag"
	"os"
)

var (
	defaultConfigPath string
)

func init() {
	flag.StringVar(&defaultConfigPath, "gateway-config", "/etc/nvmeof-top/gateways.yaml",
		"Path to the gateway fleet config file",
	)
}

// ConfigPath returns the gateway config location: the
// NVMEOF_TOP_GATEWAY_CONFIG environment variable when set, otherwise the
// -gateway-config flag value.
func ConfigPath() string {
	if path := os.Getenv("NVMEOF_TOP_GATEWAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
