package domain

// KeyPrefix namespaces every key coursedex writes to its KV store.
const KeyPrefix = "coursedex:"
