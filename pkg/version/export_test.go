package version

var ReadRevision = readRevision
