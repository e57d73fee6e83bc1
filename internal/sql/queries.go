package sql

import (
	"embed"
)

// Migrations holds the DDL applied by `tm2load migrate`, in filename order.
//
//go:embed migrations/*.sql
var Migrations embed.FS

//go:embed queries/get_record.sql
var GetRecord string

//go:embed queries/put_record.sql
var PutRecord string

//go:embed queries/list_records_by_status.sql
var ListRecordsByStatus string

//go:embed queries/count_records_by_status.sql
var CountRecordsByStatus string

//go:embed queries/insert_batch.sql
var InsertBatch string

//go:embed queries/recent_batches.sql
var RecentBatches string

//go:embed queries/select_mappings.sql
var SelectMappings string

//go:embed queries/create_mapping_staging.sql
var CreateMappingStaging string

//go:embed queries/merge_mappings.sql
var MergeMappings string
