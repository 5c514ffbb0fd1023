package sqlinline

const QInsertAccount = `--sql 742d9e48-c23d-48bd-a054-d7d88696ea04
insert into accounts (id, balance, version, frozen, frozen_reason, created_at, updated_at)
values ($1::text, $2::bigint, 0, false, '', now(), now())
on conflict (id) do nothing
returning id, balance, version, frozen, frozen_reason, created_at, updated_at;
`

const QSelectAccount = `--sql cc51e4b2-bf3f-4b21-a8a7-5042fe5d9616
select id, balance, version, frozen, frozen_reason, created_at, updated_at
from accounts
where id = $1::text
limit 1;
`

const QLockAccount = `--sql db8a1abb-d618-4e33-93cc-f438380fe3e3
select id, balance, version, frozen, frozen_reason, created_at, updated_at
from accounts
where id = $1::text
for update;
`

const QSetAccountBalance = `--sql 4d43b6f8-4977-4bee-aad5-84311a72e90f
update accounts
set balance = $2::bigint,
    version = version + 1,
    updated_at = now()
where id = $1::text
returning id, balance, version, frozen, frozen_reason, created_at, updated_at;
`

const QSetAccountFrozen = `--sql b0738879-2ed0-4700-87af-4b14cbfaf785
update accounts
set frozen = $2::boolean,
    frozen_reason = $3::text,
    version = version + 1,
    updated_at = now()
where id = $1::text;
`

const QInsertLedgerEntry = `--sql 517d64fd-1de3-408e-8e9d-76f69b685683
insert into ledger_entries (id, account_id, delta, balance_after, reason, reservation_id, created_at)
values (gen_random_uuid(), $1::text, $2::bigint, $3::bigint, $4::text, nullif($5::text, '')::uuid, now());
`

const QListLedgerEntries = `--sql 364c34bf-b0d7-4f3e-a32f-f570388fcd1e
select id, account_id, delta, balance_after, reason, reservation_id, created_at
from (
  select id::text, account_id, delta, balance_after, reason, coalesce(reservation_id::text, '') as reservation_id, created_at
  from ledger_entries
  where account_id = $1::text
  order by created_at desc, id desc
  limit $2::int
) newest
order by created_at asc, id asc;
`
