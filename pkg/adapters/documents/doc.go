// Package documents holds ports.DocumentSource implementations that resolve
// RFP references into text.
//
//   - memory: in-process documents, used by tests and local runs
//   - azblob: documents stored as blobs in an Azure Storage container
package documents
