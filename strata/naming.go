package strata

import "strings"

// TopicFromPersistenceName resolves a broker-internal ledger storage name
// to a human-readable topic identifier, used only for logging and metrics
// labels. Storage names encode the topic as
// "tenant/namespace/domain/topic", resolved to
// "domain://tenant/namespace/topic". The legacy form
// "tenant/cluster/namespace/domain/topic" keeps its cluster segment:
// "domain://tenant/cluster/namespace/topic". Names that match neither shape
// are returned unchanged so labels never go missing.
func TopicFromPersistenceName(name string) string {
	parts := strings.Split(name, "/")
	switch len(parts) {
	case 4:
		return parts[2] + "://" + parts[0] + "/" + parts[1] + "/" + parts[3]
	case 5:
		return parts[3] + "://" + parts[0] + "/" + parts[1] + "/" + parts[2] + "/" + parts[4]
	default:
		return name
	}
}
