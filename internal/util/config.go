package util

import "github.com/spf13/viper"

// GetResolveAll returns whether the LLM resolver should be invoked for
// every book rather than only on metadata conflicts. Controlled by the
// --resolve-all flag / resolve-all config key.
func GetResolveAll() bool {
	return viper.GetBool("resolve-all")
}

// GetForce returns whether manifests should be deleted and stages
// rerun from scratch, controlled by --force / force config key.
func GetForce() bool {
	return viper.GetBool("force")
}

// GetDryRun returns whether mutating operations should be skipped,
// controlled by --dry-run / dry-run config key.
func GetDryRun() bool {
	return viper.GetBool("dry-run")
}
