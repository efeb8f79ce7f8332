// Package reactor implements a non-blocking socket I/O engine: a pair of
// single-threaded event-loop workers ("selectors") that drive readiness-based
// I/O on TCP acceptor sockets and TCP connection sockets.
//
// # Architecture
//
// An [AcceptorSelector] owns listening sockets and hands accepted connections
// to one of several [WorkerSelector] instances (chosen by a [WorkerSupplier],
// e.g. [RoundRobin]). Each [WorkerSelector] owns its connection channels
// exclusively: registration, reads, writes and close all happen on that
// selector's own goroutine. Producers on other goroutines enqueue work
// (register a channel, queue a write, request a close) onto thread-safe,
// multi-producer FIFOs; the owning selector drains them at fixed points in
// its loop.
//
// # Platform support
//
// Readiness polling is implemented using platform-native mechanisms:
//   - Linux: epoll (poller_linux.go)
//   - Darwin: kqueue (poller_darwin.go)
//
// # Thread safety
//
// Inside one selector there is no parallelism: all per-channel state owned
// by that selector (its [WriteContext], [ReadContext], registration token)
// is touched only by that selector's goroutine. The producer-facing API
// ([ConnectionChannel.QueueWrite], [ConnectionChannel.Close],
// [ListeningChannel.Close], [WorkerSelector.Register],
// [AcceptorSelector.Register]) is safe to call from any goroutine.
//
// # Usage
//
//	handler := myEventHandler{}
//	worker := reactor.NewWorkerSelector(handler)
//	acceptor := reactor.NewAcceptorSelector(handler)
//	go worker.Run(ctx)
//	go acceptor.Run(ctx)
//
//	ln, _ := net.Listen("tcp", ":0")
//	lc, _ := reactor.NewListeningChannel(ln, reactor.DefaultChannelFactory, reactor.RoundRobin(worker))
//	_ = acceptor.Register(lc)
package reactor
