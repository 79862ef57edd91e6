/*
Package log implements the confirmations logging framework.

See https://github.com/cihub/seelog/wiki/Log-levels for an introduction to the
different logging levels.

We want to log all error conditions, but want to avoid logging them multiple
times. Therefore, we log them once as early as possible: When calling external
packages that create an error, we wrap that error in a log.Error() call. If we
create our own errors, we use log.Error[f]() to do that. If we call panic() we
create the error for that with log.Critical[f](). Failures that an engine will
recover from on its own retry timer are logged with log.Warn[f]() instead,
because they are handled later rather than surfaced to the caller.
*/
package log
