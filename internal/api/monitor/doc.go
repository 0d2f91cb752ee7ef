// Package monitor implements the interactive kernel monitor.
//
// The monitor reads one command per line and writes its answer to the
// console output. It runs beside the scheduler and only touches the
// kernel through its read-only introspection methods and Destroy.
//
// Commands:
//   - help: list commands
//   - kerninfo: boot id, uptime, physical memory
//   - envs: table of live environments
//   - ppm <envid> [start [end]]: page mappings of an environment
//   - net: NIC ring state
//   - kill <envid>: destroy an environment
//   - shutdown, exit: leave the monitor and stop the kernel
package monitor
