/*
Package rack implements an embedded, single-process document store on top of
a persistent key-value file (in this case, on top of Bolt).

We implement:

1. A schema registry of user record types ("entries"), each keyed by a
deterministic canonical key "{type}_{id}".

2. A small textual query language for filtering entries by field predicates.
A query string is itself a first-class key: reading the store with a query
returns the matching entries.

3. Lazy foreign-key resolution: a field named "fk_<name>" holds canonical
keys or an embedded query, and materializes on read as the "<name>" view.

4. Tags, a built-in entry type addressed by a human-chosen name
("tag_{name}") and projected to their data value on read. A tag whose
fk_data holds a query re-runs it on every read.

5. A mapping-style store façade: get/put/delete, UNIQUE id assignment,
linear-scan query execution, sort, and a JSON-in-zip backup format.

# Technical Details

**Keys.**
Every entry lives under its canonical key in a single flat bucket. There are
no secondary indexes; queries are linear scans by intent.

**Values.**
Entry values are JSON objects carrying an {id, type} envelope plus the
declared fields; foreign-key fields are stored verbatim (keys or query) and
their projected views are never serialized. Stores may opt into msgpack
value encoding; backup archives are always JSON.

**Concurrency.**
The store is single-threaded by contract. Every put and delete is durable on
return at the key granularity; there are no multi-key transactions.
*/
package rack
