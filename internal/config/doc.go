// Package config loads obakv environment settings from YAML files.
//
// # Configuration Structure
//
//	storage:
//	  path: /var/lib/obakv/data.obk
//	  pageSize: 4096
//	  geometry:
//	    lower: 64KB
//	    now: 1MB
//	    upper: 4GB
//	    growth: 1MB
//	  durability: durable   # durable, metaLazy, noMetaSync, lazy, noSync
//	  maxReaders: 126
//	  maxTables: 32
//	  maxDirtyPages: 65536
//	logging:
//	  level: info
//	  format: json
//	  output: stderr
//
// Missing keys keep the values of DefaultConfig. Unknown keys are an error.
//
// # Environment Variables
//
// ${VAR} and ${VAR:-default} are substituted before parsing:
//
//	storage:
//	  path: ${OBAKV_PATH:-/tmp/obakv.obk}
//
// # Validation
//
// ValidateConfig returns every problem found, not just the first:
//
//	cfg, err := config.LoadConfig("/etc/obakv.yaml")
//	if err != nil {
//	    return err
//	}
//	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
//	    return errs[0]
//	}
package config
