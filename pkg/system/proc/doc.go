// Package proc provides lightweight, zero-dependency process/resource
// reading on Linux: per-PID CPU time, disk I/O byte counters, RSS, and
// child-process discovery straight from /proc. It has no sampling loop or
// smoothing of its own — callers (e.g. pkg/hypervisor) own the tick
// interval and any decay applied to deltas.
//
// # Functions
//
//   - ClockTicks, PageSize: kernel constants needed to scale /proc's
//     jiffie/page-count fields into seconds and bytes.
//   - Exists: cheap liveness check via /proc/<pid>.
//   - ReadProcStat: utime/stime/minflt/majflt from /proc/<pid>/stat.
//   - ReadProcIO: read_bytes/write_bytes from /proc/<pid>/io.
//   - ReadProcRSS: resident set size, preferring smaps_rollup and falling
//     back to statm.
//   - ReadProcChildren: one level of /proc/<pid>/task/*/children; callers
//     needing a full process tree layer a BFS on top (see
//     pkg/hypervisor.LinuxProbe.processTree).
//
// All functions are read-only and return an error (the os error from a
// missing or unreadable /proc entry, or one of errs.go's) rather than
// panicking; ReadProcStat reports fields missing from a short stat line as
// zero without an error. Callers treat a
// returned error as "this PID's counters are momentarily unavailable" and
// contribute zero for that sample, never as fatal.
package proc
