package postgres

const queryListActiveTenants = `
SELECT id FROM tenants
WHERE active = true
ORDER BY id
`

const queryGetLink = `
SELECT id, tenant_id, automation_type, source_type, source_id, target_type,
       target_id, status, notes, last_evaluated_at, created_at, updated_at
FROM automation_links
WHERE tenant_id = $1
  AND automation_type = $2
  AND source_type = $3
  AND source_id = $4
  AND target_type = $5
`

const queryUpsertLink = `
INSERT INTO automation_links
    (id, tenant_id, automation_type, source_type, source_id, target_type,
     target_id, status, notes, last_evaluated_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (tenant_id, automation_type, source_type, source_id, target_type)
DO UPDATE SET
    target_id = EXCLUDED.target_id,
    status = EXCLUDED.status,
    notes = EXCLUDED.notes,
    last_evaluated_at = EXCLUDED.last_evaluated_at,
    updated_at = EXCLUDED.updated_at
`

const queryInsertRun = `
INSERT INTO automation_runs
    (id, trigger_kind, tenant_id, status, started_at,
     processed, created_count, updated_count, skipped_count, error_count, details)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const queryFinalizeRun = `
UPDATE automation_runs
SET status = $2,
    ended_at = $3,
    processed = $4,
    created_count = $5,
    updated_count = $6,
    skipped_count = $7,
    error_count = $8,
    details = $9
WHERE id = $1
  AND status = 'running'
`

const queryGetLatestRun = `
SELECT id, trigger_kind, tenant_id, status, started_at, ended_at,
       processed, created_count, updated_count, skipped_count, error_count, details
FROM automation_runs
WHERE $1::uuid IS NULL OR tenant_id = $1 OR tenant_id IS NULL
ORDER BY started_at DESC
LIMIT 1
`

const queryListRuns = `
SELECT id, trigger_kind, tenant_id, status, started_at, ended_at,
       processed, created_count, updated_count, skipped_count, error_count, details
FROM automation_runs
WHERE $1::uuid IS NULL OR tenant_id = $1 OR tenant_id IS NULL
ORDER BY started_at DESC
LIMIT $2
`

const querySummarizeLinks = `
SELECT automation_type, target_type, COUNT(*), MAX(last_evaluated_at)
FROM automation_links
WHERE tenant_id = $1
GROUP BY automation_type, target_type
ORDER BY automation_type, target_type
`

const queryListActiveContracts = `
SELECT id, tenant_id, title, contract_number, owner, end_date, renewal_notice_days
FROM contracts
WHERE tenant_id = $1 AND status = 'active'
ORDER BY end_date
`

const queryListLicenses = `
SELECT id, tenant_id, software_name, vendor, owner,
       computed_status, days_remaining, expiry_date
FROM licenses
WHERE tenant_id = $1
ORDER BY software_name
`

const queryListOverduePolicies = `
SELECT id, tenant_id, title, owner, risk_level, next_review_due
FROM policies
WHERE tenant_id = $1 AND next_review_due < NOW()
ORDER BY next_review_due
`

const queryListVulnerabilities = `
SELECT id, tenant_id, cve_id, affected_component, severity, status, target_remediation_date
FROM vulnerabilities
WHERE tenant_id = $1
ORDER BY severity, cve_id
`

const queryGetRiskItem = `
SELECT id, tenant_id, title, description, domain, likelihood, impact,
       status, owner, mitigation, review_cadence
FROM risk_items
WHERE id = $1
`

const queryInsertRiskItem = `
INSERT INTO risk_items
    (id, tenant_id, title, description, domain, likelihood, impact,
     status, owner, mitigation, review_cadence, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
`

const queryUpdateRiskItem = `
UPDATE risk_items
SET description = $2, likelihood = $3, mitigation = $4, updated_at = NOW()
WHERE id = $1
`

const queryGetTicket = `
SELECT id, tenant_id, title, description, type, category, priority,
       status, reporter, assignee, due_date
FROM tickets
WHERE id = $1
`

const queryInsertTicket = `
INSERT INTO tickets
    (id, tenant_id, title, description, type, category, priority,
     status, reporter, assignee, due_date, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
`

const queryUpdateTicket = `
UPDATE tickets
SET description = $2, priority = $3, due_date = $4, updated_at = NOW()
WHERE id = $1
`

const queryGetFinding = `
SELECT id, tenant_id, title, description, source, severity,
       status, owner, due_date, corrective_action
FROM findings
WHERE id = $1
`

const queryInsertFinding = `
INSERT INTO findings
    (id, tenant_id, title, description, source, severity,
     status, owner, due_date, corrective_action, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
`

const queryUpdateFinding = `
UPDATE findings
SET description = $2, severity = $3, due_date = $4, updated_at = NOW()
WHERE id = $1
`

const queryGetChangeRequest = `
SELECT id, tenant_id, title, description, category, risk_level, impact_level,
       status, requester, planned_start, planned_end, outage_expected,
       rollback_plan, test_plan
FROM change_requests
WHERE id = $1
`

const queryInsertChangeRequest = `
INSERT INTO change_requests
    (id, tenant_id, title, description, category, risk_level, impact_level,
     status, requester, planned_start, planned_end, outage_expected,
     rollback_plan, test_plan, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
`

const queryUpdateChangeRequest = `
UPDATE change_requests
SET description = $2, risk_level = $3, impact_level = $4,
    planned_start = $5, planned_end = $6, updated_at = NOW()
WHERE id = $1
`
