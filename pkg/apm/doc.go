// Package apm assembles the agent from its configuration.
//
// New builds either a primary-store sink, optionally fed by a broker
// bridge, or a broker proxy, and installs it in a transaction Registry:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("apm.yaml")
//	if err != nil {
//		return err
//	}
//	p, err := apm.New(cfg, apm.Options{})
//	if err != nil {
//		return err
//	}
//	defer p.Close(context.Background())
package apm
