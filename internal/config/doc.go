// Package config owns process-wide licensing configuration.
//
// It provides three things:
//
//   - Config: the bootstrap configuration loaded from environment variables
//     (LICMGR_ prefix) with an optional YAML file merge, following the
//     precedence env > file > built-in defaults.
//
//   - Defaults: the mostly-immutable per-process licensing defaults (server
//     URL, endpoint paths, transport mode, store code). Every field carries a
//     lock gate that defaults to locked; mutation outside a controlled
//     bootstrap or test context fails with errors.ErrLockedField. The derived
//     connection_uri field is recomputed after every successful mutation of
//     server_url or use_rest.
//
//   - Constants: a small registry of well-known named values (authority URL,
//     secret key, numeric status codes) shared by multiple components and
//     accessed through Constant(name, op, value) with READ/UPDATE operations.
package config
