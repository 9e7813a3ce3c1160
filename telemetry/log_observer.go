// Package telemetry turns watch engine events into operator output: log lines
// and a persisted run history.
package telemetry

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/resourcewatch/db"
	"github.com/teranos/resourcewatch/logger"
	"github.com/teranos/resourcewatch/watch"
)

// SeverityFatal tags log lines an operator must act on.
const SeverityFatal = "fatal"

// LogObserver writes one structured log line per engine event.
type LogObserver struct {
	watch.NopObserver
	log *zap.SugaredLogger
}

// NewLogObserver logs through log, or the global logger when nil.
func NewLogObserver(log *zap.SugaredLogger) *LogObserver {
	if log == nil {
		log = logger.Logger
	}
	return &LogObserver{log: log}
}

func (o *LogObserver) HostStart(e watch.HostStartEvent) {
	o.log.Infow("Resource watch host started",
		"tenants", e.Tenants,
		logger.FieldCount, len(e.Tenants))
}

func (o *LogObserver) RunStart(e watch.RunStartEvent) {
	o.log.Infow(fmt.Sprintf("Check started for tenant %s", e.Tenant),
		logger.FieldTenant, e.Tenant,
		logger.FieldRunID, e.RunID,
		logger.FieldRunType, string(e.RunType))
}

func (o *LogObserver) ListStop(e watch.ListStopEvent) {
	if e.Err != nil {
		o.log.Errorw("Failed to list resources",
			logger.FieldTenant, e.Tenant,
			logger.FieldRunID, e.RunID,
			logger.FieldElapsed, e.Elapsed.String(),
			logger.FieldError, e.Err.Error())
		return
	}
	o.log.Infow(fmt.Sprintf("Found %d resources in %s", e.Count, e.Elapsed),
		logger.FieldTenant, e.Tenant,
		logger.FieldRunID, e.RunID,
		logger.FieldCount, e.Count)
}

func (o *LogObserver) ClassifyStop(e watch.ClassifyStopEvent) {
	o.log.Debugw("Resources classified",
		logger.FieldTenant, e.Tenant,
		logger.FieldRunID, e.RunID,
		"counts", formatCounts(e.Counts))
}

func (o *LogObserver) ResourceStart(e watch.ResourceEvent) {
	pc := e.Context
	o.log.Infow(fmt.Sprintf("(%d/%d) Detected change on ResourceId=%s, Processing...", pc.Index, pc.Total, pc.Current.ResourceID),
		logger.FieldTenant, e.Tenant,
		logger.FieldRunID, e.RunID,
		logger.FieldResourceID, pc.Current.ResourceID,
		logger.FieldProcessType, pc.ProcessType.String())
}

func (o *LogObserver) ResourceStop(e watch.ResourceEvent) {
	pc := e.Context
	fields := []interface{}{
		logger.FieldTenant, e.Tenant,
		logger.FieldRunID, e.RunID,
		logger.FieldResourceID, pc.Current.ResourceID,
		logger.FieldIndex, pc.Index,
		logger.FieldTotal, pc.Total,
		logger.FieldProcessType, pc.ProcessType.String(),
		logger.FieldResultType, pc.ResultType.String(),
		logger.FieldDurationMS, e.Elapsed.Milliseconds(),
	}

	switch pc.ResultType {
	case watch.ResultNormal:
		o.log.Infow(fmt.Sprintf("(%d/%d) ResourceId=%s handled successfully", pc.Index, pc.Total, pc.Current.ResourceID), fields...)
	case watch.ResultNoNewData:
		o.log.Infow(fmt.Sprintf("(%d/%d) No payload retrieved for ResourceId=%s, same checksum as last run", pc.Index, pc.Total, pc.Current.ResourceID), fields...)
	case watch.ResultNoAction:
		o.log.Infow(fmt.Sprintf("(%d/%d) No action has been triggered for ResourceId=%s", pc.Index, pc.Total, pc.Current.ResourceID), fields...)
	case watch.ResultError:
		retries := 0
		if pc.NewState != nil {
			retries = pc.NewState.RetryCount
		}
		fields = append(fields,
			logger.FieldRetryCount, retries,
			logger.FieldBanned, e.Banned,
			logger.FieldError, errString(pc.Err))
		if e.Banned {
			fields = append(fields, logger.FieldSeverity, SeverityFatal)
			o.log.Errorw(fmt.Sprintf("ResourceId=%s failed %d times and is banned", pc.Current.ResourceID, retries), fields...)
			return
		}
		o.log.Warnw(fmt.Sprintf("Failed to process ResourceId=%s", pc.Current.ResourceID), fields...)
	default:
		o.log.Debugw(fmt.Sprintf("ResourceId=%s skipped", pc.Current.ResourceID), fields...)
	}
}

func (o *LogObserver) RunStop(s *watch.RunSummary) {
	fields := []interface{}{
		logger.FieldTenant, s.Tenant,
		logger.FieldRunID, s.RunID,
		logger.FieldRunType, string(s.RunType),
		logger.FieldDurationMS, s.Elapsed.Milliseconds(),
		"found", s.Found,
		"results", formatResults(s.Results),
	}
	if s.Failed() {
		o.log.Errorw(fmt.Sprintf("Check failed for tenant %s in %s", s.Tenant, s.Elapsed),
			append(fields, "phase", string(s.Phase), logger.FieldError, s.Err.Error())...)
		return
	}
	o.log.Infow(fmt.Sprintf("Check successful for tenant %s in %s", s.Tenant, s.Elapsed), fields...)
}

func (o *LogObserver) RunTookTooLong(e watch.SlowEvent) {
	o.log.Warnw(fmt.Sprintf("Check for tenant %s took %s, more than %s", e.Tenant, e.Elapsed, e.Threshold),
		logger.FieldTenant, e.Tenant,
		logger.FieldRunID, e.RunID,
		logger.FieldDurationMS, e.Elapsed.Milliseconds())
}

func (o *LogObserver) ResourceTookTooLong(e watch.SlowEvent) {
	o.log.Warnw(fmt.Sprintf("Processing ResourceId=%s took %s, more than %s", e.ResourceID, e.Elapsed, e.Threshold),
		logger.FieldTenant, e.Tenant,
		logger.FieldRunID, e.RunID,
		logger.FieldResourceID, e.ResourceID,
		logger.FieldDurationMS, e.Elapsed.Milliseconds())
}

func (o *LogObserver) DuplicateResourceID(e watch.FatalEvent) {
	o.log.Errorw(fmt.Sprintf("Found multiple entries for ResourceId=%s", e.ResourceID),
		logger.FieldTenant, e.Tenant,
		logger.FieldRunID, e.RunID,
		logger.FieldResourceID, e.ResourceID,
		logger.FieldSeverity, SeverityFatal)
}

func (o *LogObserver) StateSaveFailed(e watch.FatalEvent) {
	if db.IsDatabaseClosed(e.Err) {
		o.log.Debugw(fmt.Sprintf("State of ResourceId=%s not saved, database is closed", e.ResourceID),
			logger.FieldTenant, e.Tenant,
			logger.FieldRunID, e.RunID,
			logger.FieldResourceID, e.ResourceID)
		return
	}
	o.log.Errorw(fmt.Sprintf("Failed to save state of ResourceId=%s", e.ResourceID),
		logger.FieldTenant, e.Tenant,
		logger.FieldRunID, e.RunID,
		logger.FieldResourceID, e.ResourceID,
		logger.FieldSeverity, SeverityFatal,
		logger.FieldError, errString(e.Err))
}

func (o *LogObserver) ConsecutiveFailureLimitReached(e watch.FatalEvent) {
	o.log.Errorw(fmt.Sprintf("Tenant %s failed %d times consecutively", e.Tenant, e.Count),
		logger.FieldTenant, e.Tenant,
		logger.FieldRunID, e.RunID,
		logger.FieldCount, e.Count,
		logger.FieldSeverity, SeverityFatal,
		logger.FieldError, errString(e.Err))
}

func formatCounts(counts map[watch.ProcessType]int) string {
	parts := make([]string, 0, len(watch.ProcessTypes))
	for _, pt := range watch.ProcessTypes {
		parts = append(parts, fmt.Sprintf("%s=%d", pt, counts[pt]))
	}
	return strings.Join(parts, " ")
}

func formatResults(results map[watch.ResultType]int) string {
	parts := make([]string, 0, len(watch.ResultTypes))
	for _, rt := range watch.ResultTypes {
		parts = append(parts, fmt.Sprintf("%s=%d", rt, results[rt]))
	}
	return strings.Join(parts, " ")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
