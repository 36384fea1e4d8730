package lib

// CowFault exposes the copy-on-write fault handler to the external tests.
var CowFault PgfaultHandler = cowFault
