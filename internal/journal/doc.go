// Package journal persists provisioning run history in SQLite. The journal
// is write-only during a run and never consulted for provisioning decisions;
// current system state is always re-read through the inspector instead.
package journal
