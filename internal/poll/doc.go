// Package poll wraps the operating system readiness primitive behind a small
// level-triggered interface.
//
// On Linux it uses epoll. On other unix systems it falls back to poll(2),
// which is O(n) per wait but needs nothing beyond POSIX.
package poll
