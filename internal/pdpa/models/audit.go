package models

// Audit event types appended by ledger mutations.
const (
	AuditConsentCreated   = "consent_created"   // New consent granted
	AuditConsentWithdrawn = "consent_withdrawn" // Consent withdrawn by the user
	AuditDataProcessed    = "data_processed"    // Processing recorded against a consent
	AuditRightsRequested  = "rights_requested"  // User opened a rights request
	AuditRightsProcessed  = "rights_processed"  // Rights request moved to a new status
	AuditDataDeleted      = "data_deleted"      // Erasure of all user records
	AuditDataCleanup      = "data_cleanup"      // Retention sweep ran
)
