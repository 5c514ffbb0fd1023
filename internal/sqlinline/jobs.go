package sqlinline

const QInsertJob = `--sql 06faef8b-72b6-458c-b1fc-a7706388db5d
insert into generation_jobs (
  id,
  account_id,
  kind,
  input,
  state,
  reservation_id,
  reserved_cost,
  artifact,
  failure_reason,
  created_at,
  updated_at
) values (
  $1::uuid,
  $2::text,
  $3::text,
  coalesce($4::jsonb, '{}'::jsonb),
  'pending',
  $5::uuid,
  $6::bigint,
  '',
  '',
  now(),
  now()
)
returning created_at, updated_at;
`

const QSelectJob = `--sql 60465b38-096f-4c89-a5cb-a37067930acc
select id::text, account_id, kind, input, state, reservation_id::text, reserved_cost,
       artifact, failure_reason, created_at, updated_at, settled_at
from generation_jobs
where id = $1::uuid
limit 1;
`

// QTransitionJob moves a job to $2 only when its current state is in $5.
// Terminal targets stamp settled_at.
const QTransitionJob = `--sql 59044ec4-6e35-46ec-9968-87c3a1338598
update generation_jobs
set state = $2::text,
    artifact = coalesce(nullif($3::text, ''), artifact),
    failure_reason = coalesce(nullif($4::text, ''), failure_reason),
    settled_at = case when $2::text in ('completed', 'failed') then now() else settled_at end,
    updated_at = now()
where id = $1::uuid
  and state = any($5::text[])
returning id::text, account_id, kind, input, state, reservation_id::text, reserved_cost,
          artifact, failure_reason, created_at, updated_at, settled_at;
`

const QListJobsByAccount = `--sql bc839cdd-9b1c-49b1-816f-d946edac0381
select id::text, account_id, kind, input, state, reservation_id::text, reserved_cost,
       artifact, failure_reason, created_at, updated_at, settled_at
from generation_jobs
where account_id = $1::text
  and (cardinality($2::text[]) = 0 or kind = any($2::text[]))
order by created_at desc, id desc
limit $3::int offset $4::int;
`

const QListStaleJobs = `--sql 8431e50a-6cd3-46dc-afcc-407b1241bfa9
select id::text, account_id, kind, input, state, reservation_id::text, reserved_cost,
       artifact, failure_reason, created_at, updated_at, settled_at
from generation_jobs
where state in ('pending', 'processing')
  and created_at < $1::timestamptz
order by created_at asc
limit $2::int;
`

// QListTerminalJobs pages settled jobs after the ($1, $2) cursor, keeping
// only those whose reservation is still held, missing, or settled the
// other way.
const QListTerminalJobs = `--sql 0bf09689-30d4-4e86-8713-290ca7dd3a2e
select j.id::text, j.account_id, j.kind, j.input, j.state, j.reservation_id::text, j.reserved_cost,
       j.artifact, j.failure_reason, j.created_at, j.updated_at, j.settled_at
from generation_jobs j
left join reservations r on r.id = j.reservation_id
where j.state in ('completed', 'failed')
  and (j.settled_at, j.id::text) > ($1::timestamptz, $2::text)
  and r.status is distinct from (case j.state when 'completed' then 'committed' else 'refunded' end)
order by j.settled_at asc, j.id::text asc
limit $3::int;
`
