package ingest

var Truncate = truncate
