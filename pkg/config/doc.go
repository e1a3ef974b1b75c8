// Package config loads env-tagged structs with caarlos0/env, after reading an
// optional .env file with godotenv.
//
// Each struct type is parsed once and cached for the life of the process:
//
//	var cfg reconcile.Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//
// A type implementing Validate() error is validated after parsing and rejected
// with ErrInvalidConfig. LoadEnv reads extra .env files before the first Load.
// ResetCache and ForceReloadConfig exist for tests that change the environment.
package config
