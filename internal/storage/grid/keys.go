package grid

import "github.com/google/uuid"

// keys builds the cluster-scoped composite key scheme. Pod-scoped keys are
// deliberately not supported: state keyed by pod would be lost on restart.
type keys struct {
	cluster string
}

func (k keys) conn(userID uuid.UUID) string     { return "bc:" + k.cluster + ":conn:" + userID.String() }
func (k keys) online() string                   { return "bc:" + k.cluster + ":online" }
func (k keys) heartbeat(connID uuid.UUID) string { return "bc:" + k.cluster + ":hb:" + connID.String() }
func (k keys) heartbeatScan() string            { return "bc:" + k.cluster + ":hb:*" }
func (k keys) inbox(userID uuid.UUID) string    { return "bc:" + k.cluster + ":inbox:" + userID.String() }
func (k keys) content(id uuid.UUID) string      { return "bc:" + k.cluster + ":content:" + id.String() }
func (k keys) pending(userID uuid.UUID) string  { return "bc:" + k.cluster + ":pending:" + userID.String() }
func (k keys) notifyChannel() string            { return "bc:" + k.cluster + ":notify" }
